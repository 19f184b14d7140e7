package link

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// MaxURLLength is the longest url accepted in a draft or patch.
	MaxURLLength = 2083
	// MaxBulkDrafts caps the number of drafts in one bulk request.
	MaxBulkDrafts = 1000
	// DefaultLimit is the page size used when a list request has no limit.
	DefaultLimit = 100
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidateDraft checks d before it reaches storage.
func ValidateDraft(d Draft) error {
	if err := validateURL("url", d.URL); err != nil {
		return err
	}
	if d.Title != nil {
		if err := validateText("title", *d.Title); err != nil {
			return err
		}
	}
	if d.Notes != nil {
		if err := validateText("notes", *d.Notes); err != nil {
			return err
		}
	}
	return validateTags(d.Tags)
}

// ValidatePatch checks the set fields of p.
func ValidatePatch(p Patch) error {
	if v, ok := p.URL.Get(); ok {
		if err := validateURL("url", v); err != nil {
			return err
		}
	}
	if v, ok := p.Title.Get(); ok {
		if err := validateText("title", v); err != nil {
			return err
		}
	}
	if v, ok := p.Notes.Get(); ok {
		if err := validateText("notes", v); err != nil {
			return err
		}
	}
	if v, ok := p.Tags.Get(); ok {
		return validateTags(v)
	}
	return nil
}

// ValidateBulk checks every draft and reports the first failure with its index.
func ValidateBulk(ds []Draft) error {
	if len(ds) == 0 {
		return &ValidationError{Field: "links", Reason: "at least one link is required"}
	}
	if len(ds) > MaxBulkDrafts {
		return &ValidationError{Field: "links", Reason: fmt.Sprintf("at most %d links per request", MaxBulkDrafts)}
	}
	for i, d := range ds {
		if err := ValidateDraft(d); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return &ValidationError{Field: fmt.Sprintf("links[%d].%s", i, ve.Field), Reason: ve.Reason}
			}
			return err
		}
	}
	return nil
}

// ValidateListQuery rejects negative paging values.
func ValidateListQuery(q ListQuery) error {
	if q.Limit < 0 {
		return &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if q.Offset < 0 {
		return &ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	return nil
}

// validateText rejects NUL bytes, which text columns cannot store.
func validateText(field, v string) error {
	if strings.ContainsRune(v, 0) {
		return &ValidationError{Field: field, Reason: "must not contain NUL characters"}
	}
	return nil
}

func validateTags(tags []string) error {
	for i, tag := range tags {
		if err := validateText(fmt.Sprintf("tags[%d]", i), tag); err != nil {
			return err
		}
	}
	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	if len(raw) > MaxURLLength {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("too long (max %d characters)", MaxURLLength)}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: field, Reason: "invalid url format"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: field, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: field, Reason: "must include host"}
	}
	return nil
}
