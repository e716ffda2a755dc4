package api

import (
	"net/http"
	"strings"

	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/util"
)

// CustomerRequest is the body of POST /v1/customers
type CustomerRequest struct {
	Name       string `json:"name"`
	WebsiteURL string `json:"website_url"`
}

// CustomerView adds the derived connection flag to a customer
type CustomerView struct {
	*domain.Customer
	GoogleConnected bool `json:"google_connected"`
}

func customerView(c *domain.Customer) CustomerView {
	return CustomerView{Customer: c, GoogleConnected: c.GoogleConnected()}
}

func (req *CustomerRequest) validate() (*domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.Invalid("name", "is required")
	}
	if len(name) > 255 {
		return nil, domain.Invalid("name", "must be at most 255 characters")
	}
	website := util.NormaliseURL(req.WebsiteURL)
	if website == "" {
		return nil, domain.Invalid("website_url", "a valid http or https URL is required")
	}
	if err := util.ValidateDomain(util.HostOf(website)); err != nil {
		return nil, domain.Invalid("website_url", "%s", err.Error())
	}
	return &domain.Customer{Name: name, WebsiteURL: website}, nil
}

// CreateCustomer registers a customer website for the caller's tenant
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req CustomerRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	customer, err := req.validate()
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	customer.TenantID = id.TenantID

	// Tenants are created lazily from the first authenticated write
	if err := h.Customers.EnsureTenant(r.Context(), id.TenantID, id.TenantID); err != nil {
		InternalError(w, r, err)
		return
	}
	if err := h.Customers.CreateCustomer(r.Context(), customer); err != nil {
		WriteServiceError(w, r, err)
		return
	}

	logger := loggerWithRequest(r)
	logger.Info().Str("customer_id", customer.ID).Str("website_url", customer.WebsiteURL).Msg("Customer created")
	WriteCreated(w, r, customerView(customer), "Customer created")
}

// ListCustomers returns the tenant's customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	customers, err := h.Customers.ListCustomers(r.Context(), id.TenantID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	views := make([]CustomerView, 0, len(customers))
	for _, c := range customers {
		views = append(views, customerView(c))
	}
	WriteSuccess(w, r, views, "")
}

// GetCustomer returns one customer
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	customer, err := h.Customers.GetCustomer(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, customerView(customer), "")
}
