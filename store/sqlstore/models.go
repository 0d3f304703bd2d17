package sqlstore

import (
	"time"

	"gorm.io/gorm"

	"github.com/x402-foundation/splitpay"
)

// Splitter is the persisted form of splitpay.SplitterConfig.
type Splitter struct {
	ID            string `gorm:"primaryKey;size:64"`
	Merchant      string `gorm:"size:64;not null"`
	Agent         string `gorm:"size:64;not null"`
	Platform      string `gorm:"size:64;not null"`
	MerchantShare uint8  `gorm:"not null"`
	AgentShare    uint8  `gorm:"not null"`
	PlatformShare uint8  `gorm:"not null"`
	Authority     string `gorm:"size:64;index;not null"`
	OnChainReady  bool   `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Payment is the persisted form of splitpay.PaymentRecord. ProofID carries
// the unique index that makes InsertIfAbsent atomic.
type Payment struct {
	ID             string `gorm:"primaryKey;size:36"`
	ProofID        string `gorm:"size:128;uniqueIndex;not null"`
	SplitterID     string `gorm:"size:64;index;not null"`
	Payer          string `gorm:"size:64"`
	TotalAmount    uint64 `gorm:"not null"`
	MerchantAmount uint64 `gorm:"not null"`
	AgentAmount    uint64 `gorm:"not null"`
	PlatformAmount uint64 `gorm:"not null"`
	Status         string `gorm:"size:16;index;not null"`
	Resource       string `gorm:"size:512"`
	CreatedAt      time.Time
}

// Usage is the persisted form of splitpay.UsageEvent.
type Usage struct {
	ID         string `gorm:"primaryKey;size:36"`
	SplitterID string `gorm:"size:64;index;not null"`
	Resource   string `gorm:"size:512"`
	Payer      string `gorm:"size:64"`
	ProofID    string `gorm:"size:128;index;not null"`
	CreatedAt  time.Time
}

// TableName keeps the historical table name.
func (Usage) TableName() string { return "api_usage" }

// AutoMigrate creates or updates the schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Splitter{}, &Payment{}, &Usage{})
}

func splitterFromConfig(cfg *splitpay.SplitterConfig) *Splitter {
	return &Splitter{
		ID:            cfg.ID,
		Merchant:      cfg.Merchant,
		Agent:         cfg.Agent,
		Platform:      cfg.Platform,
		MerchantShare: cfg.Shares.Merchant,
		AgentShare:    cfg.Shares.Agent,
		PlatformShare: cfg.Shares.Platform,
		Authority:     cfg.Authority,
		OnChainReady:  cfg.OnChainReady,
		CreatedAt:     cfg.CreatedAt,
		UpdatedAt:     cfg.UpdatedAt,
	}
}

func (s *Splitter) toConfig() *splitpay.SplitterConfig {
	return &splitpay.SplitterConfig{
		ID:       s.ID,
		Merchant: s.Merchant,
		Agent:    s.Agent,
		Platform: s.Platform,
		Shares: splitpay.Shares{
			Merchant: s.MerchantShare,
			Agent:    s.AgentShare,
			Platform: s.PlatformShare,
		},
		Authority:    s.Authority,
		OnChainReady: s.OnChainReady,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func paymentFromRecord(rec *splitpay.PaymentRecord) *Payment {
	return &Payment{
		ID:             rec.ID,
		ProofID:        rec.ProofID,
		SplitterID:     rec.SplitterID,
		Payer:          rec.Payer,
		TotalAmount:    rec.TotalAmount,
		MerchantAmount: rec.MerchantAmount,
		AgentAmount:    rec.AgentAmount,
		PlatformAmount: rec.PlatformAmount,
		Status:         string(rec.Status),
		Resource:       rec.Resource,
		CreatedAt:      rec.CreatedAt,
	}
}

func (p *Payment) toRecord() *splitpay.PaymentRecord {
	return &splitpay.PaymentRecord{
		ID:             p.ID,
		ProofID:        p.ProofID,
		SplitterID:     p.SplitterID,
		Payer:          p.Payer,
		TotalAmount:    p.TotalAmount,
		MerchantAmount: p.MerchantAmount,
		AgentAmount:    p.AgentAmount,
		PlatformAmount: p.PlatformAmount,
		Status:         splitpay.RecordStatus(p.Status),
		Resource:       p.Resource,
		CreatedAt:      p.CreatedAt,
	}
}
