// Package identity answers who the caller is: a login provider, bearer
// sessions signed as JWTs, and the administrator check.
package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/jeffsasaki/pledge-storefront/model"
)

type Unsubscribe func()

// Provider is the sign-in capability. Login returns a nil profile and a nil
// error when the user backs out.
type Provider interface {
	Login(ctx context.Context) (*model.UserProfile, error)
	Logout(ctx context.Context) error
	Current() *model.UserProfile
	// OnChange reports the current user right away and then on every
	// login or logout.
	OnChange(cb func(*model.UserProfile)) Unsubscribe
}

// MockProvider signs everybody in as the same fixed user.
type MockProvider struct {
	user model.UserProfile

	mu      sync.Mutex
	current *model.UserProfile
	subs    map[uint64]func(*model.UserProfile)
	next    uint64
}

func DefaultMockUser() model.UserProfile {
	return model.UserProfile{
		ID:          "mock-user-123",
		Email:       "user@example.com",
		DisplayName: "Mock User",
	}
}

func NewMockProvider(user model.UserProfile) *MockProvider {
	return &MockProvider{user: user, subs: make(map[uint64]func(*model.UserProfile))}
}

func (p *MockProvider) Login(ctx context.Context) (*model.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := p.user
	p.set(&u)
	return &u, nil
}

func (p *MockProvider) Logout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.set(nil)
	return nil
}

func (p *MockProvider) Current() *model.UserProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyProfile(p.current)
}

func (p *MockProvider) OnChange(cb func(*model.UserProfile)) Unsubscribe {
	p.mu.Lock()
	key := p.next
	p.next++
	p.subs[key] = cb
	current := copyProfile(p.current)
	p.mu.Unlock()

	cb(current)

	return func() {
		p.mu.Lock()
		delete(p.subs, key)
		p.mu.Unlock()
	}
}

func (p *MockProvider) set(u *model.UserProfile) {
	p.mu.Lock()
	p.current = copyProfile(u)
	subs := make([]func(*model.UserProfile), 0, len(p.subs))
	for _, cb := range p.subs {
		subs = append(subs, cb)
	}
	p.mu.Unlock()

	for _, cb := range subs {
		cb(copyProfile(u))
	}
}

func copyProfile(u *model.UserProfile) *model.UserProfile {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

// AdminPolicy grants administrator rights to exactly one email address.
type AdminPolicy struct {
	Email string
}

func (a AdminPolicy) IsAdmin(u *model.UserProfile) bool {
	if u == nil || u.Email == "" || a.Email == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(u.Email), strings.TrimSpace(a.Email))
}
