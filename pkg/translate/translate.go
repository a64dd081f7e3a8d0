// Package translate converts chat text between languages using the
// Google Cloud Translation v2 REST endpoint. Dialogs are stored in
// English; translation happens only on the request and response edges.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultEndpoint = "https://translation.googleapis.com/language/translate/v2"

// Result is one translated text plus the source language the service
// detected when none was supplied.
type Result struct {
	Text           string
	DetectedSource string
}

// Translator converts text into the target language.
type Translator interface {
	Translate(ctx context.Context, target, source, text string) (Result, error)
}

// Client is a Translator backed by the hosted v2 REST API.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a client for the endpoint. An empty endpoint selects
// the hosted Google API and a non-positive timeout defaults to 10s.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Translate converts text into target. Source may be "auto" or empty to
// let the service detect the language. Translating into the source
// language returns the text unchanged without a network call.
func (c *Client) Translate(ctx context.Context, target, source, text string) (Result, error) {
	if source == target {
		return Result{Text: text, DetectedSource: source}, nil
	}
	form := url.Values{}
	form.Set("q", text)
	form.Set("target", target)
	form.Set("format", "text")
	if source != "" && source != "auto" {
		form.Set("source", source)
	}
	if c.apiKey != "" {
		form.Set("key", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call translate api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("translate api error: %s", resp.Status)
	}
	var payload translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode translate response: %w", err)
	}
	if len(payload.Data.Translations) == 0 {
		return Result{}, errors.New("translate api returned no translations")
	}
	first := payload.Data.Translations[0]
	return Result{Text: first.TranslatedText, DetectedSource: first.DetectedSourceLanguage}, nil
}

type translateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage"`
		} `json:"translations"`
	} `json:"data"`
}

// DefaultLanguage returns code when it is a supported language tag and
// "auto" otherwise, so unknown tags fall back to detection.
func DefaultLanguage(code string) string {
	if _, ok := supportedLanguages[code]; ok {
		return code
	}
	return "auto"
}

var supportedLanguages = map[string]struct{}{
	"af": {}, "sq": {}, "am": {}, "ar": {}, "hy": {}, "az": {}, "eu": {}, "be": {},
	"bn": {}, "bs": {}, "bg": {}, "ca": {}, "ceb": {}, "Zh-CN": {}, "zh-CN": {}, "zh": {},
	"Zh-TW": {}, "zh-TW": {}, "co": {}, "hr": {}, "cs": {}, "da": {}, "nl": {}, "en": {},
	"eo": {}, "et": {}, "fi": {}, "fr": {}, "fy": {}, "gl": {}, "ka": {}, "de": {},
	"el": {}, "gu": {}, "ht": {}, "ha": {}, "haw": {}, "he": {}, "iw": {}, "hi": {},
	"hmn": {}, "hu": {}, "is": {}, "ig": {}, "id": {}, "ga": {}, "it": {}, "ja": {},
	"jv": {}, "kn": {}, "kk": {}, "km": {}, "rw": {}, "ko": {}, "ku": {}, "ky": {},
	"lo": {}, "la": {}, "lv": {}, "lt": {}, "lb": {}, "mk": {}, "mg": {}, "ms": {},
	"ml": {}, "mt": {}, "mi": {}, "mr": {}, "mn": {}, "my": {}, "ne": {}, "no": {},
	"ny": {}, "or": {}, "ps": {}, "fa": {}, "pl": {}, "pt": {}, "pa": {}, "ro": {},
	"ru": {}, "sm": {}, "gd": {}, "sr": {}, "st": {}, "sn": {}, "sd": {}, "si": {},
	"sk": {}, "sl": {}, "so": {}, "es": {}, "su": {}, "sw": {}, "sv": {}, "tl": {},
	"tg": {}, "ta": {}, "tt": {}, "te": {}, "th": {}, "tr": {}, "tk": {}, "uk": {},
	"ur": {}, "ug": {}, "uz": {}, "vi": {}, "cy": {}, "xh": {}, "yi": {}, "yo": {},
	"zu": {},
}
