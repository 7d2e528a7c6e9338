// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request
// data: method guards, form parsing, and the repeated-field encoding used
// for custom shares and payment allocations.

package http

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"conti/internal/core"
)

// RequireMethod checks if the request method matches the expected method(s).
// Returns an error response builder if the method doesn't match.
func RequireMethod(r *http.Request, methods ...string) *HTMXResponseBuilder {
	for _, m := range methods {
		if r.Method == m {
			return nil
		}
	}
	return MethodNotAllowedError(strings.Join(methods, ", "))
}

// RequirePOST is a convenience function for POST-only handlers.
func RequirePOST(r *http.Request) *HTMXResponseBuilder {
	return RequireMethod(r, http.MethodPost)
}

// RequireDeleteOrPOST is a convenience function for DELETE/POST handlers.
func RequireDeleteOrPOST(r *http.Request) *HTMXResponseBuilder {
	return RequireMethod(r, http.MethodDelete, http.MethodPost)
}

// ParseFormOrFail parses the request form and returns an error response on failure.
// Returns nil on success.
func ParseFormOrFail(r *http.Request) *HTMXResponseBuilder {
	if err := r.ParseForm(); err != nil {
		return BadRequestError("Formato richiesta non valido")
	}
	return nil
}

// parseShareSpecs reads the repeated share_user/share_amount form fields.
// The two slices must pair up one to one; amounts are decimal Euro strings.
// Returns nil when no custom split was submitted, which means equal split.
func parseShareSpecs(form url.Values) ([]core.ShareSpec, error) {
	users := form["share_user"]
	amounts := form["share_amount"]
	if len(users) == 0 && len(amounts) == 0 {
		return nil, nil
	}
	if len(users) != len(amounts) {
		return nil, fmt.Errorf("share fields mismatch: %d users, %d amounts", len(users), len(amounts))
	}

	specs := make([]core.ShareSpec, 0, len(users))
	for i, user := range users {
		user = sanitizeInput(user)
		if user == "" {
			return nil, fmt.Errorf("share %d: empty user", i+1)
		}
		cents, err := core.ParseDecimalToCents(strings.TrimSpace(amounts[i]))
		if err != nil {
			return nil, fmt.Errorf("share %d: %w", i+1, err)
		}
		specs = append(specs, core.ShareSpec{UserID: user, Amount: core.Money{Cents: cents}})
	}
	return specs, nil
}

// parseAllocations reads the repeated alloc_share/alloc_amount form fields
// into payment allocations. Returns nil when the payment is unlinked.
func parseAllocations(form url.Values) ([]core.Allocation, error) {
	shares := form["alloc_share"]
	amounts := form["alloc_amount"]
	if len(shares) == 0 && len(amounts) == 0 {
		return nil, nil
	}
	if len(shares) != len(amounts) {
		return nil, fmt.Errorf("allocation fields mismatch: %d shares, %d amounts", len(shares), len(amounts))
	}

	allocs := make([]core.Allocation, 0, len(shares))
	for i, share := range shares {
		share = sanitizeInput(share)
		if share == "" {
			return nil, fmt.Errorf("allocation %d: empty share", i+1)
		}
		cents, err := core.ParseDecimalToCents(strings.TrimSpace(amounts[i]))
		if err != nil {
			return nil, fmt.Errorf("allocation %d: %w", i+1, err)
		}
		allocs = append(allocs, core.Allocation{ShareID: share, Amount: core.Money{Cents: cents}})
	}
	return allocs, nil
}
