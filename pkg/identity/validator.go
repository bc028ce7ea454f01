// Package identity decides whether an account name may receive payouts or
// resource purchases.
package identity

import (
	"context"
	"sort"
	"sync"
)

// Validator reports whether account is a valid recipient.
type Validator interface {
	IsValidAccount(ctx context.Context, account string) bool
}

// Func adapts a function to Validator.
type Func func(ctx context.Context, account string) bool

func (f Func) IsValidAccount(ctx context.Context, account string) bool { return f(ctx, account) }

// MaxNameLength is the longest account name NameRule accepts.
const MaxNameLength = 12

// NameRule accepts account names of 1 to 12 characters drawn from a-z, 1-5
// and '.', not ending with '.'.
type NameRule struct{}

func (NameRule) IsValidAccount(_ context.Context, account string) bool {
	if len(account) == 0 || len(account) > MaxNameLength {
		return false
	}
	if account[len(account)-1] == '.' {
		return false
	}
	for i := 0; i < len(account); i++ {
		c := account[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '1' && c <= '5':
		case c == '.':
		default:
			return false
		}
	}
	return true
}

// Registry is an explicit allow set of accounts.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]struct{}
}

func NewRegistry(accounts ...string) *Registry {
	r := &Registry{accounts: make(map[string]struct{}, len(accounts))}
	for _, a := range accounts {
		r.accounts[a] = struct{}{}
	}
	return r
}

func (r *Registry) Add(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account] = struct{}{}
}

func (r *Registry) Remove(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, account)
}

// Accounts returns the registered accounts in order.
func (r *Registry) Accounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.accounts))
	for a := range r.accounts {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) IsValidAccount(_ context.Context, account string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accounts[account]
	return ok
}

// All accepts an account only if every validator does.
func All(validators ...Validator) Validator {
	return Func(func(ctx context.Context, account string) bool {
		for _, v := range validators {
			if !v.IsValidAccount(ctx, account) {
				return false
			}
		}
		return true
	})
}
