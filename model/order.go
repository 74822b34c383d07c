package model

import (
	"slices"
	"strings"
	"time"
)

const (
	// PickupAddress marks an order collected on site instead of shipped.
	PickupAddress = "현장수령"
	// UnknownEmail is recorded when the identity carries no email.
	UnknownEmail = "unknown"
)

// ContactInfo is what the supporter types into the pledge form.
type ContactInfo struct {
	UserName      string `json:"user_name"`
	UserPhone     string `json:"user_phone"`
	ContactName   string `json:"contact_name"`
	ContactPhone  string `json:"contact_phone"`
	DepositorName string `json:"depositor_name"`
	Address       string `json:"address"`
	Memo          string `json:"memo"`
	// SameAsUser copies the supporter's name and phone into the recipient fields.
	SameAsUser bool `json:"same_as_user"`
}

// Normalize trims every field and applies SameAsUser.
func (c ContactInfo) Normalize() ContactInfo {
	c.UserName = strings.TrimSpace(c.UserName)
	c.UserPhone = strings.TrimSpace(c.UserPhone)
	c.ContactName = strings.TrimSpace(c.ContactName)
	c.ContactPhone = strings.TrimSpace(c.ContactPhone)
	c.DepositorName = strings.TrimSpace(c.DepositorName)
	c.Address = strings.TrimSpace(c.Address)
	c.Memo = strings.TrimSpace(c.Memo)
	if c.SameAsUser {
		c.ContactName = c.UserName
		c.ContactPhone = c.UserPhone
	}
	return c
}

type Consent struct {
	DataSharing bool `json:"data_sharing"`
	Terms       bool `json:"terms"`
}

// NewOrder builds a pending order that snapshots the reward as it is right now.
// Blank optional fields get explicit defaults; quantity is always one.
func NewOrder(user UserProfile, campaign *Campaign, reward Reward, contact ContactInfo, createdAt time.Time) Order {
	email := user.Email
	if email == "" {
		email = UnknownEmail
	}
	userName := contact.UserName
	if userName == "" {
		userName = user.DisplayName
	}
	address := contact.Address
	if address == "" {
		address = PickupAddress
	}

	return Order{
		UserID:        user.ID,
		UserEmail:     email,
		UserName:      userName,
		UserPhone:     contact.UserPhone,
		ContactName:   contact.ContactName,
		ContactPhone:  contact.ContactPhone,
		DepositorName: contact.DepositorName,
		Address:       address,
		Memo:          contact.Memo,
		ProductName:   campaign.Title,
		RewardID:      reward.ID,
		RewardTitle:   reward.Title,
		RewardItems:   slices.Clone(reward.Items),
		TotalAmount:   reward.Price,
		Quantity:      1,
		Status:        StatusPendingPayment,
		CreatedAt:     createdAt,
	}
}

// Clone returns a copy that shares no slices with o.
func (o Order) Clone() Order {
	o.RewardItems = slices.Clone(o.RewardItems)
	return o
}
