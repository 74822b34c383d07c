package model

import "time"

// UserProfile is the identity handed to the storefront by the identity provider.
// Empty Email/DisplayName/AvatarURL mean the provider did not supply them.
type UserProfile struct {
	ID          string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type Reward struct {
	ID          string   `json:"id" yaml:"id"`
	Price       int64    `json:"price" yaml:"price"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Remaining   int      `json:"remaining" yaml:"remaining"`
	Items       []string `json:"items" yaml:"items"`
}

type BankAccount struct {
	BankName      string `json:"bank_name" yaml:"bank_name"`
	AccountNumber string `json:"account_number" yaml:"account_number"`
	Holder        string `json:"holder" yaml:"holder"`
}

// Campaign is the single fixed crowdfunding project. It is loaded once and
// never mutated at runtime.
type Campaign struct {
	ID           string      `json:"id" yaml:"id"`
	Title        string      `json:"title" yaml:"title"`
	Category     string      `json:"category" yaml:"category"`
	Creator      string      `json:"creator" yaml:"creator"`
	GoalAmount   int64       `json:"goal_amount" yaml:"goal_amount"`
	StartDate    string      `json:"start_date" yaml:"start_date"`
	EndDate      string      `json:"end_date" yaml:"end_date"`
	Description  string      `json:"description" yaml:"description"`
	Images       []string    `json:"images" yaml:"images"`
	Rewards      []Reward    `json:"rewards" yaml:"rewards"`
	RefundPolicy string      `json:"refund_policy" yaml:"refund_policy"`
	BankAccount  BankAccount `json:"bank_account" yaml:"bank_account"`
}

// FindReward returns the campaign's own copy of the reward with the given id.
func (c *Campaign) FindReward(id string) (Reward, bool) {
	for _, r := range c.Rewards {
		if r.ID == id {
			return r, true
		}
	}
	return Reward{}, false
}

type Order struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	UserEmail     string      `json:"user_email"`
	UserName      string      `json:"user_name"`
	UserPhone     string      `json:"user_phone,omitempty"`
	ContactName   string      `json:"contact_name"`
	ContactPhone  string      `json:"contact_phone"`
	DepositorName string      `json:"depositor_name"`
	Address       string      `json:"address"`
	Memo          string      `json:"memo,omitempty"`
	ProductName   string      `json:"product_name"`
	RewardID      string      `json:"reward_id,omitempty"`
	RewardTitle   string      `json:"reward_title"`
	RewardItems   []string    `json:"reward_items,omitempty"`
	TotalAmount   int64       `json:"total_amount"`
	Quantity      int         `json:"quantity"`
	Status        OrderStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}
