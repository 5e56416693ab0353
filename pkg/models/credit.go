package models

import (
	"fmt"
	"time"
)

// OwnerType identifies who a credit balance belongs to.
type OwnerType string

const (
	OwnerUser         OwnerType = "user"
	OwnerOrganization OwnerType = "organization"
)

// Valid reports whether t is a known owner type.
func (t OwnerType) Valid() bool {
	switch t {
	case OwnerUser, OwnerOrganization:
		return true
	}
	return false
}

// CreditKind is a billing category tracked as an independent balance.
type CreditKind string

const (
	KindAIToken CreditKind = "ai_token"
	KindSMS     CreditKind = "sms"
	KindEmail   CreditKind = "email"
	KindCash    CreditKind = "cash"
)

// Valid reports whether k is a known credit kind.
func (k CreditKind) Valid() bool {
	switch k {
	case KindAIToken, KindSMS, KindEmail, KindCash:
		return true
	}
	return false
}

// Owner is one billable party: a user or an organization.
type Owner struct {
	Type OwnerType `json:"type"`
	ID   string    `json:"id"`
}

// NewOwner builds an Owner, rejecting unknown owner types and empty IDs.
func NewOwner(t OwnerType, id string) (Owner, error) {
	if !t.Valid() {
		return Owner{}, fmt.Errorf("invalid owner type %q", t)
	}
	if id == "" {
		return Owner{}, fmt.Errorf("owner id is empty")
	}
	return Owner{Type: t, ID: id}, nil
}

func (o Owner) String() string {
	return string(o.Type) + ":" + o.ID
}

// CreditBalance is one (owner, kind) balance row. The balance never goes
// negative; all mutation happens through conditional atomic decrements.
type CreditBalance struct {
	Owner     Owner      `json:"owner"`
	Kind      CreditKind `json:"kind"`
	Balance   int64      `json:"balance"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RequestContext carries the identity a request acts as. It replaces any
// ambient current-user lookup: owner-chain resolution reads only from here.
type RequestContext struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Locale         string `json:"locale"`
}

// OwnerChain returns the billing fallback chain for this request: the
// user's personal balance first, then the organization's.
func (rc RequestContext) OwnerChain() []Owner {
	var chain []Owner
	if rc.UserID != "" {
		chain = append(chain, Owner{Type: OwnerUser, ID: rc.UserID})
	}
	if rc.OrganizationID != "" {
		chain = append(chain, Owner{Type: OwnerOrganization, ID: rc.OrganizationID})
	}
	return chain
}
