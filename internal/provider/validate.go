// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package provider

import (
	"context"
	"io"
	"net/http"
	"strings"

	sberr "github.com/safebill/assistant/pkg/errors"
)

// Provider names accepted in responder.provider.
const (
	NameOpenAI    = "openai"
	NameAnthropic = "anthropic"
	NameGoogle    = "google"
)

// modelsURL is the cheapest authenticated endpoint of each provider.
var modelsURL = map[string]string{
	NameOpenAI:    "https://api.openai.com/v1/models",
	NameAnthropic: "https://api.anthropic.com/v1/models",
	NameGoogle:    "https://generativelanguage.googleapis.com/v1beta/models",
}

// ValidateKey lists models with key to confirm the provider accepts it. A
// non-empty baseURL replaces the provider's public API host.
func ValidateKey(ctx context.Context, client *http.Client, name, key, baseURL string) error {
	url, ok := modelsURL[name]
	if !ok {
		return sberr.Errorf(sberr.CodeProviderRequestInvalid, "unknown provider: %s", name)
	}
	if baseURL != "" {
		url = strings.TrimSuffix(baseURL, "/") + "/models"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return sberr.Wrapf(err, sberr.CodeProviderKeyCheckFailed, "building validation request")
	}
	switch name {
	case NameAnthropic:
		req.Header.Set("x-api-key", key)
		req.Header.Set("anthropic-version", "2023-06-01")
	case NameGoogle:
		req.Header.Set("x-goog-api-key", key)
	default:
		req.Header.Set("Authorization", "Bearer "+key)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return sberr.Wrapf(err, sberr.CodeProviderKeyCheckFailed, "validating %s key", name)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return sberr.New(sberr.CodeProviderKeyInvalid, "invalid "+name+" API key", sberr.FieldProvider(name), sberr.FieldStatus(resp.StatusCode))
	case resp.StatusCode >= 400:
		return sberr.New(sberr.CodeProviderKeyCheckFailed, name+" key validation failed", sberr.FieldProvider(name), sberr.FieldStatus(resp.StatusCode))
	}
	return nil
}
