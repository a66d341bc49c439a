// Package language detects the language of extracted page text.
package language

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

// DefaultCodes is the language set used when none is configured.
var DefaultCodes = []string{"en", "de", "fr", "es", "it", "pt", "nl", "ru", "ja", "zh"}

type Options struct {
	Enabled     bool
	Codes       []string // ISO 639-1 codes to choose between
	Default     string   // reported when detection is off or inconclusive
	LowAccuracy bool
}

// Detector reports ISO 639-1 codes. The zero value always reports "en".
type Detector struct {
	fallback string
	langs    []lingua.Language
	lowAcc   bool

	once     sync.Once
	detector lingua.LanguageDetector
}

// New validates the configured codes. The underlying models load lazily on
// the first Detect call.
func New(opts Options) (*Detector, error) {
	d := &Detector{fallback: strings.ToLower(opts.Default), lowAcc: opts.LowAccuracy}
	if d.fallback == "" {
		d.fallback = "en"
	}
	if !opts.Enabled {
		return d, nil
	}

	codes := opts.Codes
	if len(codes) == 0 {
		codes = DefaultCodes
	}
	for _, code := range codes {
		lang, ok := languageFor(code)
		if !ok {
			return nil, fmt.Errorf("language: unsupported code %q", code)
		}
		d.langs = append(d.langs, lang)
	}
	if len(d.langs) < 2 {
		return nil, fmt.Errorf("language: at least 2 languages required, got %d", len(d.langs))
	}
	return d, nil
}

func languageFor(code string) (lingua.Language, bool) {
	code = strings.TrimSpace(code)
	for _, lang := range lingua.AllLanguages() {
		if strings.EqualFold(lang.IsoCode639_1().String(), code) {
			return lang, true
		}
	}
	return lingua.Unknown, false
}

// Detect returns the language code of text, or the default code.
func (d *Detector) Detect(text string) string {
	fallback := "en"
	if d != nil && d.fallback != "" {
		fallback = d.fallback
	}
	if d == nil || len(d.langs) == 0 || strings.TrimSpace(text) == "" {
		return fallback
	}

	d.once.Do(func() {
		b := lingua.NewLanguageDetectorBuilder().FromLanguages(d.langs...)
		if d.lowAcc {
			b = b.WithLowAccuracyMode()
		}
		d.detector = b.Build()
	})

	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return fallback
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
