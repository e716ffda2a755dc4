package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tagmanager "google.golang.org/api/tagmanager/v2"
)

// WorkspaceName is the dedicated workspace every customer container gets
const WorkspaceName = "OneClickTag"

// GTM is the subset of the Tag Manager API the sync code uses
type GTM interface {
	ListAccounts(ctx context.Context) ([]*tagmanager.Account, error)
	FindOrCreateContainer(ctx context.Context, accountID, name, domainName string) (*tagmanager.Container, error)
	FindOrCreateWorkspace(ctx context.Context, containerPath, name string) (*tagmanager.Workspace, error)
	EnsureEssentials(ctx context.Context, workspacePath, measurementID string) error
	WorkspaceExists(ctx context.Context, workspacePath string) (bool, error)

	UpsertTrigger(ctx context.Context, workspacePath string, trigger *tagmanager.Trigger) (*tagmanager.Trigger, error)
	UpsertTag(ctx context.Context, workspacePath string, tag *tagmanager.Tag) (*tagmanager.Tag, error)
	DeleteTrigger(ctx context.Context, workspacePath, triggerID string) error
	DeleteTag(ctx context.Context, workspacePath, tagID string) error
	TriggerExists(ctx context.Context, workspacePath, triggerID string) (bool, error)
	TagExists(ctx context.Context, workspacePath, tagID string) (bool, error)

	Publish(ctx context.Context, workspacePath string) error
}

// GTMClient implements GTM with the generated tagmanager/v2 client
type GTMClient struct {
	svc *tagmanager.Service
}

// NewGTMClient creates a Tag Manager client
func NewGTMClient(ctx context.Context, opts ...option.ClientOption) (*GTMClient, error) {
	svc, err := tagmanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tag Manager client: %w", err)
	}
	return &GTMClient{svc: svc}, nil
}

// IsNotFound reports whether err is a Google API 404
func IsNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func (c *GTMClient) ListAccounts(ctx context.Context) ([]*tagmanager.Account, error) {
	var accounts []*tagmanager.Account
	err := c.svc.Accounts.List().Pages(ctx, func(resp *tagmanager.ListAccountsResponse) error {
		accounts = append(accounts, resp.Account...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list GTM accounts: %w", err)
	}
	return accounts, nil
}

// FindOrCreateContainer matches an existing web container by name before creating one
func (c *GTMClient) FindOrCreateContainer(ctx context.Context, accountID, name, domainName string) (*tagmanager.Container, error) {
	parent := "accounts/" + accountID

	var found *tagmanager.Container
	err := c.svc.Accounts.Containers.List(parent).Pages(ctx, func(resp *tagmanager.ListContainersResponse) error {
		for _, container := range resp.Container {
			if strings.EqualFold(container.Name, name) {
				found = container
				return errStopPaging
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopPaging) {
		return nil, fmt.Errorf("failed to list GTM containers: %w", err)
	}
	if found != nil {
		return found, nil
	}

	container := &tagmanager.Container{
		Name:         name,
		UsageContext: []string{"web"},
	}
	if domainName != "" {
		container.DomainName = []string{domainName}
	}
	created, err := c.svc.Accounts.Containers.Create(parent, container).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create GTM container: %w", err)
	}
	return created, nil
}

func (c *GTMClient) FindOrCreateWorkspace(ctx context.Context, containerPath, name string) (*tagmanager.Workspace, error) {
	resp, err := c.svc.Accounts.Containers.Workspaces.List(containerPath).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list GTM workspaces: %w", err)
	}
	for _, ws := range resp.Workspace {
		if ws.Name == name {
			return ws, nil
		}
	}

	created, err := c.svc.Accounts.Containers.Workspaces.Create(containerPath, &tagmanager.Workspace{
		Name:        name,
		Description: "Managed by OneClickTag",
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create GTM workspace: %w", err)
	}
	return created, nil
}

func (c *GTMClient) WorkspaceExists(ctx context.Context, workspacePath string) (bool, error) {
	_, err := c.svc.Accounts.Containers.Workspaces.Get(workspacePath).Context(ctx).Do()
	return existsResult(err)
}

// EnsureEssentials enables the built-in variables the triggers reference and creates the
// conversion linker and, once a measurement id is known, the Google tag.
func (c *GTMClient) EnsureEssentials(ctx context.Context, workspacePath, measurementID string) error {
	_, err := c.svc.Accounts.Containers.Workspaces.BuiltInVariables.Create(workspacePath).
		Type(essentialBuiltInVariables...).Context(ctx).Do()
	if err != nil && !isConflict(err) {
		return fmt.Errorf("failed to enable built-in variables: %w", err)
	}

	tags, err := c.listTags(ctx, workspacePath)
	if err != nil {
		return err
	}
	has := func(tagType string) bool {
		for _, tag := range tags {
			if tag.Type == tagType {
				return true
			}
		}
		return false
	}

	if !has(TagTypeConversionLinker) {
		if _, err := c.createTag(ctx, workspacePath, ConversionLinkerTag()); err != nil {
			return err
		}
	}
	if measurementID != "" && !has(TagTypeGoogleTag) {
		if _, err := c.createTag(ctx, workspacePath, GoogleTag(measurementID)); err != nil {
			return err
		}
	}
	return nil
}

// UpsertTrigger updates the trigger when it has an id that still exists and creates it otherwise
func (c *GTMClient) UpsertTrigger(ctx context.Context, workspacePath string, trigger *tagmanager.Trigger) (*tagmanager.Trigger, error) {
	triggers := c.svc.Accounts.Containers.Workspaces.Triggers
	if trigger.TriggerId != "" {
		updated, err := triggers.Update(workspacePath+"/triggers/"+trigger.TriggerId, trigger).Context(ctx).Do()
		if err == nil {
			return updated, nil
		}
		if !IsNotFound(err) {
			return nil, fmt.Errorf("failed to update GTM trigger: %w", err)
		}
		trigger.TriggerId = ""
	}

	created, err := triggers.Create(workspacePath, trigger).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create GTM trigger: %w", err)
	}
	return created, nil
}

func (c *GTMClient) UpsertTag(ctx context.Context, workspacePath string, tag *tagmanager.Tag) (*tagmanager.Tag, error) {
	if tag.TagId != "" {
		updated, err := c.svc.Accounts.Containers.Workspaces.Tags.Update(workspacePath+"/tags/"+tag.TagId, tag).Context(ctx).Do()
		if err == nil {
			return updated, nil
		}
		if !IsNotFound(err) {
			return nil, fmt.Errorf("failed to update GTM tag: %w", err)
		}
		tag.TagId = ""
	}
	return c.createTag(ctx, workspacePath, tag)
}

func (c *GTMClient) createTag(ctx context.Context, workspacePath string, tag *tagmanager.Tag) (*tagmanager.Tag, error) {
	created, err := c.svc.Accounts.Containers.Workspaces.Tags.Create(workspacePath, tag).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create GTM tag %q: %w", tag.Name, err)
	}
	return created, nil
}

func (c *GTMClient) listTags(ctx context.Context, workspacePath string) ([]*tagmanager.Tag, error) {
	var tags []*tagmanager.Tag
	err := c.svc.Accounts.Containers.Workspaces.Tags.List(workspacePath).Pages(ctx, func(resp *tagmanager.ListTagsResponse) error {
		tags = append(tags, resp.Tag...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list GTM tags: %w", err)
	}
	return tags, nil
}

// DeleteTrigger removes a trigger; a trigger that is already gone is not an error
func (c *GTMClient) DeleteTrigger(ctx context.Context, workspacePath, triggerID string) error {
	err := c.svc.Accounts.Containers.Workspaces.Triggers.Delete(workspacePath + "/triggers/" + triggerID).Context(ctx).Do()
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete GTM trigger: %w", err)
	}
	return nil
}

// DeleteTag removes a tag; a tag that is already gone is not an error
func (c *GTMClient) DeleteTag(ctx context.Context, workspacePath, tagID string) error {
	err := c.svc.Accounts.Containers.Workspaces.Tags.Delete(workspacePath + "/tags/" + tagID).Context(ctx).Do()
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete GTM tag: %w", err)
	}
	return nil
}

func (c *GTMClient) TriggerExists(ctx context.Context, workspacePath, triggerID string) (bool, error) {
	_, err := c.svc.Accounts.Containers.Workspaces.Triggers.Get(workspacePath + "/triggers/" + triggerID).Context(ctx).Do()
	return existsResult(err)
}

func (c *GTMClient) TagExists(ctx context.Context, workspacePath, tagID string) (bool, error) {
	_, err := c.svc.Accounts.Containers.Workspaces.Tags.Get(workspacePath + "/tags/" + tagID).Context(ctx).Do()
	return existsResult(err)
}

// Publish creates a container version from the workspace and publishes it
func (c *GTMClient) Publish(ctx context.Context, workspacePath string) error {
	resp, err := c.svc.Accounts.Containers.Workspaces.CreateVersion(workspacePath, &tagmanager.CreateContainerVersionRequestVersionOptions{
		Name:  "OneClickTag sync",
		Notes: "Published automatically by OneClickTag",
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to create GTM container version: %w", err)
	}
	if resp.CompilerError || resp.ContainerVersion == nil {
		return errors.New("GTM workspace failed to compile")
	}

	if _, err := c.svc.Accounts.Containers.Versions.Publish(resp.ContainerVersion.Path).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to publish GTM container version: %w", err)
	}
	return nil
}

var errStopPaging = errors.New("stop paging")

func existsResult(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func isConflict(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
