package domain

// TrackingType is the semantic kind of event a tracking captures.
type TrackingType string

const (
	TypeButtonClick       TrackingType = "BUTTON_CLICK"
	TypeLinkClick         TrackingType = "LINK_CLICK"
	TypeOutboundLink      TrackingType = "OUTBOUND_LINK"
	TypeFileDownload      TrackingType = "FILE_DOWNLOAD"
	TypePhoneCallClick    TrackingType = "PHONE_CALL_CLICK"
	TypeEmailClick        TrackingType = "EMAIL_CLICK"
	TypeSocialShare       TrackingType = "SOCIAL_SHARE"
	TypeChatStart         TrackingType = "CHAT_START"
	TypeBookAppointment   TrackingType = "BOOK_APPOINTMENT"
	TypeFormSubmit        TrackingType = "FORM_SUBMIT"
	TypeContactForm       TrackingType = "CONTACT_FORM"
	TypeNewsletterSignup  TrackingType = "NEWSLETTER_SIGNUP"
	TypeRequestQuote      TrackingType = "REQUEST_QUOTE"
	TypeGenerateLead      TrackingType = "GENERATE_LEAD"
	TypeSignUp            TrackingType = "SIGN_UP"
	TypeLogin             TrackingType = "LOGIN"
	TypeSearch            TrackingType = "SEARCH"
	TypePageView          TrackingType = "PAGE_VIEW"
	TypeElementVisibility TrackingType = "ELEMENT_VISIBILITY"
	TypeScrollDepth       TrackingType = "SCROLL_DEPTH"
	TypeTimeOnPage        TrackingType = "TIME_ON_PAGE"
	TypeVideoPlay         TrackingType = "VIDEO_PLAY"
	TypeVideoComplete     TrackingType = "VIDEO_COMPLETE"
	TypeViewItem          TrackingType = "VIEW_ITEM"
	TypeViewItemList      TrackingType = "VIEW_ITEM_LIST"
	TypeAddToCart         TrackingType = "ADD_TO_CART"
	TypeRemoveFromCart    TrackingType = "REMOVE_FROM_CART"
	TypeBeginCheckout     TrackingType = "BEGIN_CHECKOUT"
	TypeAddShippingInfo   TrackingType = "ADD_SHIPPING_INFO"
	TypeAddPaymentInfo    TrackingType = "ADD_PAYMENT_INFO"
	TypePurchase          TrackingType = "PURCHASE"
	TypeCustomEvent       TrackingType = "CUSTOM_EVENT"
)

// AllTrackingTypes lists every tracking type in declaration order.
var AllTrackingTypes = []TrackingType{
	TypeButtonClick, TypeLinkClick, TypeOutboundLink, TypeFileDownload, TypePhoneCallClick,
	TypeEmailClick, TypeSocialShare, TypeChatStart, TypeBookAppointment, TypeFormSubmit,
	TypeContactForm, TypeNewsletterSignup, TypeRequestQuote, TypeGenerateLead, TypeSignUp,
	TypeLogin, TypeSearch, TypePageView, TypeElementVisibility, TypeScrollDepth,
	TypeTimeOnPage, TypeVideoPlay, TypeVideoComplete, TypeViewItem, TypeViewItemList,
	TypeAddToCart, TypeRemoveFromCart, TypeBeginCheckout, TypeAddShippingInfo, TypeAddPaymentInfo,
	TypePurchase, TypeCustomEvent,
}

func (t TrackingType) Valid() bool {
	for _, known := range AllTrackingTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TriggerKind is the family of GTM trigger a tracking type is implemented with.
type TriggerKind string

const (
	TriggerClick             TriggerKind = "click"
	TriggerLinkClick         TriggerKind = "linkClick"
	TriggerFormSubmission    TriggerKind = "formSubmission"
	TriggerPageview          TriggerKind = "pageview"
	TriggerElementVisibility TriggerKind = "elementVisibility"
	TriggerScrollDepth       TriggerKind = "scrollDepth"
	TriggerTimer             TriggerKind = "timer"
	TriggerYouTubeVideo      TriggerKind = "youTubeVideo"
	TriggerCustomEvent       TriggerKind = "customEvent"
)

// DefaultGA4EventName returns the GA4 event sent when the tracking does not override it.
// Ecommerce types use the GA4 recommended event names.
func DefaultGA4EventName(t TrackingType) string {
	switch t {
	case TypeButtonClick:
		return "button_click"
	case TypeLinkClick:
		return "link_click"
	case TypeOutboundLink:
		return "click"
	case TypeFileDownload:
		return "file_download"
	case TypePhoneCallClick:
		return "phone_call_click"
	case TypeEmailClick:
		return "email_click"
	case TypeSocialShare:
		return "share"
	case TypeChatStart:
		return "chat_start"
	case TypeBookAppointment:
		return "book_appointment"
	case TypeFormSubmit:
		return "form_submit"
	case TypeContactForm:
		return "contact_form_submit"
	case TypeNewsletterSignup:
		return "newsletter_signup"
	case TypeRequestQuote:
		return "request_quote"
	case TypeGenerateLead:
		return "generate_lead"
	case TypeSignUp:
		return "sign_up"
	case TypeLogin:
		return "login"
	case TypeSearch:
		return "search"
	case TypePageView:
		return "page_view"
	case TypeElementVisibility:
		return "element_visible"
	case TypeScrollDepth:
		return "scroll"
	case TypeTimeOnPage:
		return "time_on_page"
	case TypeVideoPlay:
		return "video_start"
	case TypeVideoComplete:
		return "video_complete"
	case TypeViewItem:
		return "view_item"
	case TypeViewItemList:
		return "view_item_list"
	case TypeAddToCart:
		return "add_to_cart"
	case TypeRemoveFromCart:
		return "remove_from_cart"
	case TypeBeginCheckout:
		return "begin_checkout"
	case TypeAddShippingInfo:
		return "add_shipping_info"
	case TypeAddPaymentInfo:
		return "add_payment_info"
	case TypePurchase:
		return "purchase"
	case TypeCustomEvent:
		return "custom_event"
	}
	return ""
}

// TriggerKindFor returns the GTM trigger family used for a tracking type.
func TriggerKindFor(t TrackingType) TriggerKind {
	switch t {
	case TypeButtonClick, TypeChatStart, TypeBookAppointment, TypeSocialShare:
		return TriggerClick
	case TypeLinkClick, TypeOutboundLink, TypeFileDownload, TypePhoneCallClick, TypeEmailClick:
		return TriggerLinkClick
	case TypeFormSubmit, TypeContactForm, TypeNewsletterSignup, TypeRequestQuote,
		TypeGenerateLead, TypeSignUp, TypeLogin, TypeSearch:
		return TriggerFormSubmission
	case TypePageView:
		return TriggerPageview
	case TypeElementVisibility:
		return TriggerElementVisibility
	case TypeScrollDepth:
		return TriggerScrollDepth
	case TypeTimeOnPage:
		return TriggerTimer
	case TypeVideoPlay, TypeVideoComplete:
		return TriggerYouTubeVideo
	case TypeViewItem, TypeViewItemList, TypeAddToCart, TypeRemoveFromCart, TypeBeginCheckout,
		TypeAddShippingInfo, TypeAddPaymentInfo, TypePurchase, TypeCustomEvent:
		return TriggerCustomEvent
	}
	return ""
}

// ConversionCategory returns the Google Ads conversion action category for a tracking type.
func ConversionCategory(t TrackingType) string {
	switch t {
	case TypePurchase:
		return "PURCHASE"
	case TypeAddToCart:
		return "ADD_TO_CART"
	case TypeBeginCheckout, TypeAddShippingInfo, TypeAddPaymentInfo:
		return "BEGIN_CHECKOUT"
	case TypeSignUp, TypeNewsletterSignup:
		return "SIGNUP"
	case TypeContactForm, TypeFormSubmit, TypeChatStart:
		return "CONTACT"
	case TypeRequestQuote:
		return "REQUEST_QUOTE"
	case TypeGenerateLead:
		return "SUBMIT_LEAD_FORM"
	case TypeBookAppointment:
		return "BOOK_APPOINTMENT"
	case TypePhoneCallClick:
		return "PHONE_CALL_LEAD"
	case TypePageView, TypeViewItem, TypeViewItemList, TypeScrollDepth, TypeTimeOnPage,
		TypeElementVisibility, TypeVideoPlay, TypeVideoComplete:
		return "PAGE_VIEW"
	case TypeFileDownload:
		return "DOWNLOAD"
	case TypeButtonClick, TypeLinkClick, TypeOutboundLink, TypeEmailClick, TypeSocialShare,
		TypeLogin, TypeSearch, TypeRemoveFromCart, TypeCustomEvent:
		return "DEFAULT"
	}
	return ""
}

// IsConversion reports whether the type is a business outcome worth reporting to Google Ads.
func IsConversion(t TrackingType) bool {
	switch t {
	case TypePurchase, TypeBeginCheckout, TypeAddToCart, TypeSignUp, TypeGenerateLead,
		TypeContactForm, TypeRequestQuote, TypeBookAppointment, TypePhoneCallClick, TypeNewsletterSignup:
		return true
	case TypeButtonClick, TypeLinkClick, TypeOutboundLink, TypeFileDownload, TypeEmailClick,
		TypeSocialShare, TypeChatStart, TypeFormSubmit, TypeLogin, TypeSearch, TypePageView,
		TypeElementVisibility, TypeScrollDepth, TypeTimeOnPage, TypeVideoPlay, TypeVideoComplete,
		TypeViewItem, TypeViewItemList, TypeRemoveFromCart, TypeAddShippingInfo, TypeAddPaymentInfo,
		TypeCustomEvent:
		return false
	}
	return false
}

// RequiresSelector reports whether the trigger needs a CSS selector to target an element.
func RequiresSelector(t TrackingType) bool {
	switch TriggerKindFor(t) {
	case TriggerClick, TriggerElementVisibility:
		return true
	case TriggerLinkClick, TriggerFormSubmission, TriggerPageview, TriggerScrollDepth,
		TriggerTimer, TriggerYouTubeVideo, TriggerCustomEvent:
		return false
	}
	return false
}
