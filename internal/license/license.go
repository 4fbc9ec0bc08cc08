// Package license decides whether the user is on the paid plan. Keys are
// checked against a remote validation endpoint and the outcome is kept in
// the key-value store.
package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/kvstore"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

// DefaultEndpoint is the production validation URL.
const DefaultEndpoint = "https://scrollframe.tech/api/license/validate"

var keyPrefixes = []string{"SG-", "SCROLLFRAME-PRO-"}

// ValidateFormat checks the key shape before any network call.
func ValidateFormat(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return types.NewError(types.CodeValidation, "license key is required", nil)
	}
	for _, p := range keyPrefixes {
		if strings.HasPrefix(key, p) {
			return nil
		}
	}
	return types.NewError(types.CodeValidation, "invalid license key format", nil)
}

// Result is the verdict of the validation endpoint.
type Result struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

type validateResponse struct {
	Result struct {
		Data Result `json:"data"`
	} `json:"result"`
}

// Validator posts keys to the validation endpoint.
type Validator struct {
	client   *http.Client
	endpoint string
}

// NewValidator returns a Validator. A nil client uses http.DefaultClient.
func NewValidator(client *http.Client, endpoint string) *Validator {
	if client == nil {
		client = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Validator{client: client, endpoint: endpoint}
}

// Validate asks the endpoint whether key is active.
func (v *Validator) Validate(ctx context.Context, key string) (Result, error) {
	body, err := json.Marshal(map[string]string{"licenseKey": key})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("license: validate request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Result{}, fmt.Errorf("license: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Valid: false, Message: fmt.Sprintf("validation endpoint returned status %d", resp.StatusCode)}, nil
	}
	var out validateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("license: decode response: %w", err)
	}
	return out.Result.Data, nil
}

// Status is what the settings page shows.
type Status struct {
	Paid        bool      `json:"isPro"`
	Plan        string    `json:"plan"`
	Key         string    `json:"licenseKey,omitempty"`
	ValidatedAt time.Time `json:"proValidatedAt,omitempty"`
}

// Oracle answers "is the user paid" from the store and runs activation.
type Oracle struct {
	store     kvstore.Store
	validator *Validator
	now       func() time.Time
}

// NewOracle returns an Oracle.
func NewOracle(store kvstore.Store, validator *Validator, now func() time.Time) *Oracle {
	if now == nil {
		now = time.Now
	}
	return &Oracle{store: store, validator: validator, now: now}
}

// IsPaid reads the isPro flag. A missing flag means free.
func (o *Oracle) IsPaid(ctx context.Context) (bool, error) {
	var paid bool
	if _, err := kvstore.GetInto(ctx, o.store, kvstore.KeyIsPro, &paid); err != nil {
		return false, fmt.Errorf("license: read plan: %w", err)
	}
	return paid, nil
}

// Activate validates key remotely and stores the result. A rejected key
// clears the paid flag and returns LICENSE_INVALID.
func (o *Oracle) Activate(ctx context.Context, key string) (Status, error) {
	key = strings.TrimSpace(key)
	if err := ValidateFormat(key); err != nil {
		return Status{}, err
	}
	res, err := o.validator.Validate(ctx, key)
	if err != nil {
		return Status{}, err
	}
	if !res.Valid {
		if err := o.store.Set(ctx, map[string]any{kvstore.KeyIsPro: false}); err != nil {
			return Status{}, fmt.Errorf("license: store result: %w", err)
		}
		msg := res.Message
		if msg == "" {
			msg = "invalid or expired license key"
		}
		slog.Info("license rejected", "message", msg)
		return Status{Plan: "free"}, types.NewError(types.CodeLicenseInvalid, msg, nil)
	}

	now := o.now()
	err = o.store.Set(ctx, map[string]any{
		kvstore.KeyLicenseKey:     key,
		kvstore.KeyIsPro:          true,
		kvstore.KeyProValidatedAt: now.UnixMilli(),
	})
	if err != nil {
		return Status{}, fmt.Errorf("license: store result: %w", err)
	}
	slog.Info("license activated", "key_prefix", redact(key))
	return Status{Paid: true, Plan: "paid", Key: key, ValidatedAt: time.UnixMilli(now.UnixMilli())}, nil
}

// Clear drops the stored key and returns to the free plan.
func (o *Oracle) Clear(ctx context.Context) error {
	err := o.store.Set(ctx, map[string]any{
		kvstore.KeyLicenseKey:     "",
		kvstore.KeyIsPro:          false,
		kvstore.KeyProValidatedAt: nil,
	})
	if err != nil {
		return fmt.Errorf("license: clear: %w", err)
	}
	return nil
}

// Status reads the stored license state.
func (o *Oracle) Status(ctx context.Context) (Status, error) {
	var st Status
	paid, err := o.IsPaid(ctx)
	if err != nil {
		return st, err
	}
	st.Paid = paid
	st.Plan = "free"
	if paid {
		st.Plan = "paid"
	}
	if _, err := kvstore.GetInto(ctx, o.store, kvstore.KeyLicenseKey, &st.Key); err != nil {
		return st, fmt.Errorf("license: read key: %w", err)
	}
	var ms int64
	if ok, err := kvstore.GetInto(ctx, o.store, kvstore.KeyProValidatedAt, &ms); err != nil {
		return st, fmt.Errorf("license: read validated at: %w", err)
	} else if ok && ms > 0 {
		st.ValidatedAt = time.UnixMilli(ms)
	}
	return st, nil
}

func redact(key string) string {
	if i := strings.LastIndex(key, "-"); i > 0 {
		return key[:i+1] + "***"
	}
	return "***"
}
