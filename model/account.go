package model

import "time"

// Gender values accepted on a profile.
const (
	GenderMen   = "Men"
	GenderWomen = "Women"
)

// Profile is the shopper profile document stored at users/{uid}.
type Profile struct {
	UID           string      `json:"uid"`
	Email         string      `json:"email"`
	Name          string      `json:"name"`
	Phone         string      `json:"phone"`
	WhatsApp      string      `json:"whatsapp,omitempty"`
	Gender        string      `json:"gender"`
	Address       string      `json:"address"`
	Landmark      string      `json:"landmark,omitempty"`
	PhotoURL      *string     `json:"photo_url"`
	EmailVerified bool        `json:"email_verified"`
	Preferences   Preferences `json:"preferences"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	LastLoginAt   *time.Time  `json:"last_login_at,omitempty"`
}

// Preferences holds the shopper's communication settings.
type Preferences struct {
	Notifications bool `json:"notifications"`
	Newsletter    bool `json:"newsletter"`
}

// CartItem is one product line in a shopper's cart, stored at
// users/{uid}/cart/{productID}.
type CartItem struct {
	ID        string    `json:"id"`
	Product   Product   `json:"product"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subtotal returns price times quantity.
func (c CartItem) Subtotal() float64 {
	return c.Product.Price * float64(c.Quantity)
}

// Cart is the derived view of a shopper's cart.
type Cart struct {
	Items     []CartItem `json:"items"`
	ItemCount int        `json:"item_count"`
	Total     float64    `json:"total"`
}

// NewCart computes totals over items.
func NewCart(items []CartItem) Cart {
	c := Cart{Items: items}
	if c.Items == nil {
		c.Items = []CartItem{}
	}
	for _, it := range items {
		c.ItemCount += it.Quantity
		c.Total += it.Subtotal()
	}
	return c
}

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

// Order statuses.
const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// PaymentStatus is the payment state of an order.
type PaymentStatus string

// Payment statuses.
const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Order is a placed order, stored at orders/{id}.
type Order struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	Items             []CartItem    `json:"items"`
	Subtotal          float64       `json:"subtotal"`
	AdditionalFees    float64       `json:"additional_fees"`
	Total             float64       `json:"total"`
	Status            OrderStatus   `json:"status"`
	DeliveryAddress   string        `json:"delivery_address"`
	PaymentMethod     string        `json:"payment_method,omitempty"`
	PaymentStatus     PaymentStatus `json:"payment_status,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	EstimatedDelivery *time.Time    `json:"estimated_delivery,omitempty"`
}
