package domain

// NotificationSettings are a shopper's email preferences.
type NotificationSettings struct {
	EmailNotifications bool `json:"emailNotifications"`
	OrderUpdates       bool `json:"orderUpdates"`
	Promotions         bool `json:"promotions"`
	Newsletter         bool `json:"newsletter"`
	SecurityAlerts     bool `json:"securityAlerts"`
}

type SecuritySettings struct {
	TwoFactorAuth bool `json:"twoFactorAuth"`
	LoginAlerts   bool `json:"loginAlerts"`
}

type AppearanceSettings struct {
	Theme    string `json:"theme" binding:"omitempty,oneof=light dark"`
	Language string `json:"language"`
}

type GeneralSettings struct {
	Currency string `json:"currency"`
	Timezone string `json:"timezone"`
}

// StoreSettings are edited by admins only.
type StoreSettings struct {
	StoreName    string `json:"storeName"`
	StoreEmail   string `json:"storeEmail"`
	StorePhone   string `json:"storePhone"`
	StoreAddress string `json:"storeAddress"`
	TaxRate      string `json:"taxRate"`
	ShippingCost string `json:"shippingCost"`
}

func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		EmailNotifications: true,
		OrderUpdates:       true,
		Newsletter:         true,
		SecurityAlerts:     true,
	}
}

func DefaultSecuritySettings() SecuritySettings {
	return SecuritySettings{LoginAlerts: true}
}

func DefaultAppearanceSettings() AppearanceSettings {
	return AppearanceSettings{Theme: "light", Language: "en"}
}

func DefaultGeneralSettings() GeneralSettings {
	return GeneralSettings{Currency: "USD", Timezone: "UTC"}
}

func DefaultStoreSettings() StoreSettings {
	return StoreSettings{StoreName: "Hanad Shopping Center", TaxRate: "0", ShippingCost: "0"}
}
