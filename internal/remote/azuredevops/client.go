// Package azuredevops implements [remote.Client] against the Azure
// DevOps Server/Services REST API.
package azuredevops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mcdafydd/go-azuredevops/azuredevops"

	"go.mergers.dev/mergers/internal/remote"
)

const apiVersion = "7.1"

// maxRateLimitRetries bounds how many times do() will wait out a
// RateLimited response and retry before giving up and returning it to
// the caller, so a host that never stops throttling can't hang a run
// forever.
const maxRateLimitRetries = 5

// Options configures a new [Client].
type Options struct {
	// BaseURL is the organization's base API URL, e.g.
	// "https://dev.azure.com/my-org" or the on-prem Server equivalent.
	BaseURL string

	// Project is the team project name or ID that repositories,
	// pull requests, and work items belong to.
	Project string

	// RepositoryID is the repository (name or GUID) PRs are listed
	// against.
	RepositoryID string

	// Token is a personal access token, sent as the password half of
	// HTTP Basic auth per Azure DevOps's PAT convention.
	Token string

	// Timeout bounds every request. Zero uses a 30s default, matching
	// the core's documented per-call remote timeout.
	Timeout time.Duration
}

// Client is a [remote.Client] backed by Azure DevOps's REST API.
//
// Rather than go through go-azuredevops's generated service types —
// whose work-item and pull-request surfaces don't line up cleanly with
// the eight operations this boundary needs — the client borrows only
// its BasicAuthTransport for PAT authentication and otherwise speaks
// the REST API directly: a handful of calls against a stable wire
// contract, not a full SDK surface.
type Client struct {
	http    *http.Client
	baseURL *url.URL
	project string
	repo    string
}

// New constructs a Client from opts.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	tp := azuredevops.BasicAuthTransport{
		Username: "",
		Password: strings.TrimSpace(opts.Token),
	}
	httpClient := tp.Client()

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient.Timeout = timeout

	return &Client{
		http:    httpClient,
		baseURL: base,
		project: opts.Project,
		repo:    opts.RepositoryID,
	}, nil
}

var _ remote.Client = (*Client)(nil)

// adoError mirrors the JSON error envelope Azure DevOps REST responses
// use for non-2xx statuses.
type adoError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	TypeKey    string `json:"typeKey"`
}

func (e *adoError) Error() string {
	if e.TypeKey != "" {
		return fmt.Sprintf("azure devops API error (status %d, %s): %s", e.StatusCode, e.TypeKey, e.Message)
	}
	return fmt.Sprintf("azure devops API error (status %d): %s", e.StatusCode, e.Message)
}

// do sends a request and retries a RateLimited response by waiting
// out its RetryAfterSeconds before trying again: the only taxonomy
// error the core retries automatically. Every other error is returned
// to the caller as-is.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, reqBody, resBody any) error {
	for attempt := 0; ; attempt++ {
		err := c.doOnce(ctx, method, path, query, reqBody, resBody)

		var rl *remote.RateLimited
		if !errors.As(err, &rl) || attempt >= maxRateLimitRetries {
			return err
		}

		timer := time.NewTimer(time.Duration(rl.RetryAfterSeconds) * time.Second)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, reqBody, resBody any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("parse path: %w", err)
	}
	u := c.baseURL.ResolveReference(ref)
	q := query
	if q == nil {
		q = url.Values{}
	}
	q.Set("api-version", apiVersion)
	u.RawQuery = q.Encode()

	var body io.Reader
	contentType := "application/json"
	if reqBody != nil {
		if patch, ok := reqBody.(jsonPatch); ok {
			bs, err := json.Marshal([]jsonPatchOp(patch))
			if err != nil {
				return fmt.Errorf("marshal request body: %w", err)
			}
			body = bytes.NewReader(bs)
			contentType = "application/json-patch+json"
		} else {
			bs, err := json.Marshal(reqBody)
			if err != nil {
				return fmt.Errorf("marshal request body: %w", err)
			}
			body = bytes.NewReader(bs)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60
		if h := res.Header.Get("Retry-After"); h != "" {
			if secs, err := strconv.Atoi(h); err == nil {
				retryAfter = secs
			}
		}
		return &remote.RateLimited{RetryAfterSeconds: retryAfter}
	}

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		bs, _ := io.ReadAll(res.Body)
		return &remote.Unauthorized{Message: string(bs)}
	}

	if res.StatusCode == http.StatusNotFound {
		return &remote.NotFound{Resource: path}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bs, err := io.ReadAll(res.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		adoErr := &adoError{StatusCode: res.StatusCode}
		if err := json.Unmarshal(bs, adoErr); err != nil {
			adoErr.Message = string(bs)
		}
		return &remote.RequestFailed{Status: res.StatusCode, Message: adoErr.Error()}
	}

	if resBody == nil || res.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	bs, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(bs, resBody); err != nil {
		return &remote.ParseError{Err: err}
	}
	return nil
}

type jsonPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type jsonPatch []jsonPatchOp

func (c *Client) repoPath(suffix string) string {
	return fmt.Sprintf("%s/_apis/git/repositories/%s%s", c.project, c.repo, suffix)
}

func (c *Client) witPath(suffix string) string {
	return fmt.Sprintf("%s/_apis/wit%s", c.project, suffix)
}

// pullRequestDTO is the subset of Azure DevOps's pull request resource
// the core consumes.
type pullRequestDTO struct {
	PullRequestID int64     `json:"pullRequestId"`
	Title         string    `json:"title"`
	ClosedDate    time.Time `json:"closedDate"`
	CreatedBy     struct {
		DisplayName string `json:"displayName"`
	} `json:"createdBy"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	LastMergeCommit struct {
		CommitID string `json:"commitId"`
	} `json:"lastMergeCommit"`
}

func (dto pullRequestDTO) toPullRequest() remote.PullRequest {
	labels := make([]string, 0, len(dto.Labels))
	for _, l := range dto.Labels {
		labels = append(labels, l.Name)
	}
	return remote.PullRequest{
		ID:            dto.PullRequestID,
		Title:         dto.Title,
		ClosedAt:      dto.ClosedDate,
		Author:        dto.CreatedBy.DisplayName,
		Labels:        labels,
		MergeCommitID: dto.LastMergeCommit.CommitID,
	}
}

// FetchPullRequests implements [remote.Client].
func (c *Client) FetchPullRequests(ctx context.Context, targetRef string, top, skip int) (remote.PullRequestPage, error) {
	q := url.Values{
		"searchCriteria.status":         {"completed"},
		"searchCriteria.targetRefName":  {targetRef},
		"$top":                          {strconv.Itoa(top)},
		"$skip":                         {strconv.Itoa(skip)},
	}
	var resp struct {
		Value []pullRequestDTO `json:"value"`
		Count int              `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath("/pullrequests"), q, nil, &resp); err != nil {
		return remote.PullRequestPage{}, err
	}

	prs := make([]remote.PullRequest, 0, len(resp.Value))
	for _, dto := range resp.Value {
		prs = append(prs, dto.toPullRequest())
	}
	return remote.PullRequestPage{
		PullRequests: prs,
		HasMore:      len(prs) == top,
	}, nil
}

// FetchPR implements [remote.Client].
func (c *Client) FetchPR(ctx context.Context, prID int64) (remote.PullRequest, error) {
	var dto pullRequestDTO
	path := c.repoPath("/pullrequests/" + strconv.FormatInt(prID, 10))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &dto); err != nil {
		return remote.PullRequest{}, err
	}
	return dto.toPullRequest(), nil
}

// FetchWorkItemsForPR implements [remote.Client].
func (c *Client) FetchWorkItemsForPR(ctx context.Context, prID int64) ([]remote.WorkItemRef, error) {
	var resp struct {
		Value []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"value"`
	}
	path := c.repoPath("/pullrequests/" + strconv.FormatInt(prID, 10) + "/workitems")
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}

	refs := make([]remote.WorkItemRef, 0, len(resp.Value))
	for _, v := range resp.Value {
		id, err := strconv.ParseInt(v.ID, 10, 64)
		if err != nil {
			return nil, &remote.ParseError{Err: fmt.Errorf("work item id %q: %w", v.ID, err)}
		}
		refs = append(refs, remote.WorkItemRef{ID: id})
	}
	return refs, nil
}

type workItemDTO struct {
	ID     int64          `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (dto workItemDTO) toWorkItem() remote.WorkItem {
	stringField := func(key string) string {
		s, _ := dto.Fields[key].(string)
		return s
	}
	return remote.WorkItem{
		ID:            dto.ID,
		Title:         stringField("System.Title"),
		State:         stringField("System.State"),
		Type:          stringField("System.WorkItemType"),
		Assignee:      stringField("System.AssignedTo"),
		IterationPath: stringField("System.IterationPath"),
		Description:   stringField("System.Description"),
	}
}

// FetchWorkItemsByIDs implements [remote.Client]. The core calls it
// once per batch, and falls back to calling it once per ID when the
// batch call fails.
func (c *Client) FetchWorkItemsByIDs(ctx context.Context, ids []int64, fields []string) ([]remote.WorkItem, error) {
	reqBody := struct {
		IDs    []int64  `json:"ids"`
		Fields []string `json:"fields,omitempty"`
	}{IDs: ids, Fields: fields}

	var resp struct {
		Value []workItemDTO `json:"value"`
	}
	path := c.witPath("/workitemsbatch")
	if err := c.do(ctx, http.MethodPost, path, nil, reqBody, &resp); err != nil {
		return nil, err
	}

	items := make([]remote.WorkItem, 0, len(resp.Value))
	for _, dto := range resp.Value {
		items = append(items, dto.toWorkItem())
	}
	return items, nil
}

// FetchWorkItemHistory implements [remote.Client].
func (c *Client) FetchWorkItemHistory(ctx context.Context, workItemID int64) ([]remote.StateTransition, error) {
	var resp struct {
		Value []struct {
			Rev    int            `json:"rev"`
			Fields map[string]any `json:"fields"`
		} `json:"value"`
	}
	path := c.witPath("/workitems/" + strconv.FormatInt(workItemID, 10) + "/updates")
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}

	var transitions []remote.StateTransition
	for _, u := range resp.Value {
		raw, ok := u.Fields["System.State"]
		if !ok {
			continue
		}
		stateChange, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		newState, _ := stateChange["newValue"].(string)
		if newState == "" {
			continue
		}
		changedDate, _ := u.Fields["System.ChangedDate"].(map[string]any)
		var at time.Time
		if newVal, ok := changedDate["newValue"].(string); ok {
			at, _ = time.Parse(time.RFC3339, newVal)
		}
		transitions = append(transitions, remote.StateTransition{
			Revision: u.Rev,
			At:       at,
			NewState: newState,
		})
	}
	return transitions, nil
}

// FetchRepo implements [remote.Client].
func (c *Client) FetchRepo(ctx context.Context, repoName string) (remote.Repo, error) {
	var dto struct {
		Name   string `json:"name"`
		SSHURL string `json:"sshUrl"`
	}
	path := fmt.Sprintf("%s/_apis/git/repositories/%s", c.project, repoName)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &dto); err != nil {
		return remote.Repo{}, err
	}
	return remote.Repo{Name: dto.Name, SSHURL: dto.SSHURL}, nil
}

// AddLabelToPR implements [remote.Client].
//
// A label that already exists on the PR is reported back as HTTP 409,
// which Azure DevOps uses here to mean "no-op, the tag is already
// there" rather than a genuine failure: a promote re-run over PRs
// already tagged by a prior, partially-finished run must not treat
// that as an error.
func (c *Client) AddLabelToPR(ctx context.Context, prID int64, label string) error {
	reqBody := struct {
		Name string `json:"name"`
	}{Name: label}
	path := c.repoPath("/pullrequests/" + strconv.FormatInt(prID, 10) + "/labels")
	err := c.do(ctx, http.MethodPost, path, nil, reqBody, nil)

	var failed *remote.RequestFailed
	if errors.As(err, &failed) && failed.Status == http.StatusConflict {
		return nil
	}
	return err
}

// UpdateWorkItemState implements [remote.Client].
func (c *Client) UpdateWorkItemState(ctx context.Context, workItemID int64, newState string) error {
	patch := jsonPatch{{Op: "add", Path: "/fields/System.State", Value: newState}}
	path := c.witPath("/workitems/" + strconv.FormatInt(workItemID, 10))
	return c.do(ctx, http.MethodPatch, path, nil, patch, nil)
}
