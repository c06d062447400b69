package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"reviewpilot-backend/logging"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	defaultReviewsAPIBase = "https://mybusiness.googleapis.com/v4"
	reviewsPageSize       = 50
	maxReviewPages        = 5
	tokenRetryAttempts    = 3
)

// ExternalReview is one review as the platform reports it, before it is
// persisted locally.
type ExternalReview struct {
	ID         string
	Reviewer   string
	Rating     int
	Comment    string
	CreateTime time.Time
	UpdateTime time.Time
}

type googleReviewer struct {
	DisplayName string `json:"displayName"`
	IsAnonymous bool   `json:"isAnonymous"`
}

type googleReview struct {
	ReviewID   string         `json:"reviewId"`
	Reviewer   googleReviewer `json:"reviewer"`
	StarRating string         `json:"starRating"`
	Comment    string         `json:"comment"`
	CreateTime time.Time      `json:"createTime"`
	UpdateTime time.Time      `json:"updateTime"`
}

type listReviewsResponse struct {
	Reviews          []googleReview `json:"reviews"`
	NextPageToken    string         `json:"nextPageToken"`
	TotalReviewCount int            `json:"totalReviewCount"`
}

// GoogleReviewsClient talks to the Business Profile review API on behalf of
// an outlet, exchanging the outlet's stored refresh token for access tokens
// as needed.
type GoogleReviewsClient struct {
	httpClient *http.Client
	apiBase    string
	oauthCfg   *oauth2.Config
	retryDelay time.Duration
	log        *logrus.Entry
}

func NewGoogleReviewsClient() *GoogleReviewsClient {
	apiBase := os.Getenv("GOOGLE_REVIEWS_API_BASE")
	if apiBase == "" {
		apiBase = defaultReviewsAPIBase
	}
	return newGoogleReviewsClient(&http.Client{Timeout: 20 * time.Second}, apiBase)
}

// newGoogleReviewsClient pins the transport and API base; tests pass a client
// with an intercepted transport.
func newGoogleReviewsClient(httpClient *http.Client, apiBase string) *GoogleReviewsClient {
	return &GoogleReviewsClient{
		httpClient: httpClient,
		apiBase:    strings.TrimRight(apiBase, "/"),
		oauthCfg: &oauth2.Config{
			ClientID:     os.Getenv("GOOGLE_OAUTH_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET"),
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://www.googleapis.com/auth/business.manage"},
		},
		retryDelay: time.Second,
		log:        logging.Component("reviews_client"),
	}
}

// accessToken exchanges the refresh token, retrying transient failures with
// a short backoff. Permanent grant errors are returned immediately so a
// revoked connection does not burn the retry budget.
func (c *GoogleReviewsClient) accessToken(ctx context.Context, refreshToken string) (string, error) {
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	var lastErr error
	for attempt := 0; attempt < tokenRetryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		src := c.oauthCfg.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err == nil && tok.AccessToken != "" {
			return tok.AccessToken, nil
		}
		if err == nil {
			err = errors.New("token response had no access token")
		}
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil &&
			rErr.Response.StatusCode < http.StatusInternalServerError &&
			rErr.Response.StatusCode != http.StatusTooManyRequests {
			return "", fmt.Errorf("refresh token rejected: %w", err)
		}
		lastErr = err
		c.log.WithError(err).WithField("attempt", attempt+1).Warn("token refresh failed")
	}
	return "", fmt.Errorf("refresh token after %d attempts: %w", tokenRetryAttempts, lastErr)
}

// FetchReviews lists the location's reviews, newest first, keeping only those
// updated strictly after since. Pagination stops after a fixed page ceiling
// so one huge backlog cannot stall the whole cycle.
func (c *GoogleReviewsClient) FetchReviews(ctx context.Context, locationName, refreshToken string, since *time.Time) ([]ExternalReview, error) {
	token, err := c.accessToken(ctx, refreshToken)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"location":           locationName,
			"error_class":        "auth",
			"needs_reconnection": true,
		}).WithError(err).Error("credential refresh failed")
		return nil, fmt.Errorf("refresh credentials for %s: %w", locationName, err)
	}

	var out []ExternalReview
	pageToken := ""
	for page := 0; page < maxReviewPages; page++ {
		listURL := fmt.Sprintf("%s/%s/reviews?pageSize=%d", c.apiBase, locationName, reviewsPageSize)
		if pageToken != "" {
			listURL += "&pageToken=" + url.QueryEscape(pageToken)
		}
		var parsed listReviewsResponse
		if err := c.getJSON(ctx, listURL, token, &parsed); err != nil {
			return nil, fmt.Errorf("list reviews page %d for %s: %w", page+1, locationName, err)
		}
		for i := range parsed.Reviews {
			r := &parsed.Reviews[i]
			ext := ExternalReview{
				ID:         r.ReviewID,
				Reviewer:   r.Reviewer.DisplayName,
				Rating:     starToRating(r.StarRating),
				Comment:    r.Comment,
				CreateTime: r.CreateTime,
				UpdateTime: r.UpdateTime,
			}
			if r.Reviewer.IsAnonymous || ext.Reviewer == "" {
				ext.Reviewer = "Anonymous"
			}
			if since != nil && !reviewTimestamp(ext).After(*since) {
				continue
			}
			out = append(out, ext)
		}
		pageToken = parsed.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return out, nil
}

// PostReply publishes a reply under the review. The platform treats the call
// as an upsert on the review's single reply slot.
func (c *GoogleReviewsClient) PostReply(ctx context.Context, locationName, reviewID, comment, refreshToken string) error {
	token, err := c.accessToken(ctx, refreshToken)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"location":           locationName,
			"error_class":        "auth",
			"needs_reconnection": true,
		}).WithError(err).Error("credential refresh failed")
		return fmt.Errorf("refresh credentials for %s: %w", locationName, err)
	}

	payload, err := json.Marshal(map[string]string{"comment": comment})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	replyURL := fmt.Sprintf("%s/%s/reviews/%s/reply", c.apiBase, locationName, url.PathEscape(reviewID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, replyURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post reply for %s: %w", reviewID, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post reply for %s: %w", reviewID, c.statusError(resp.StatusCode, body))
	}
	return nil
}

func (c *GoogleReviewsClient) getJSON(ctx context.Context, rawURL, token string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

func (c *GoogleReviewsClient) statusError(code int, body []byte) error {
	class := classifyHTTPStatus(code)
	fields := logrus.Fields{"status": code, "error_class": class}
	if class == "auth" {
		fields["needs_reconnection"] = true
	}
	c.log.WithFields(fields).Error("review platform call failed")
	return fmt.Errorf("platform returned status %d: %s", code, snippet(strings.TrimSpace(string(body)), 200))
}

// classifyHTTPStatus buckets an HTTP status into the log taxonomy shared by
// the outbound clients.
func classifyHTTPStatus(code int) string {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "auth"
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError:
		return "transient"
	default:
		return "unexpected"
	}
}

func starToRating(star string) int {
	switch star {
	case "ONE":
		return 1
	case "TWO":
		return 2
	case "THREE":
		return 3
	case "FOUR":
		return 4
	case "FIVE":
		return 5
	default:
		return 0
	}
}

// reviewTimestamp is the freshness instant used for checkpoint filtering.
// Edited reviews move forward on updateTime and are picked up again.
func reviewTimestamp(r ExternalReview) time.Time {
	if !r.UpdateTime.IsZero() {
		return r.UpdateTime
	}
	return r.CreateTime
}
