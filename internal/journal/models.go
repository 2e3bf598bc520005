package journal

// TradeModel is one confirmed ledger trade, journaled locally for audit and
// offline restart. The ledger's trade id is the primary key, so replaying a
// confirmation is a no-op.
type TradeModel struct {
	TradeID       int64   `gorm:"column:trade_id;primaryKey"`
	CorrelationID string  `gorm:"column:correlation_id;index"`
	Symbol        string  `gorm:"column:symbol;index"`
	Side          string  `gorm:"column:side"`
	Quantity      float64 `gorm:"column:quantity"`
	Price         float64 `gorm:"column:price"`
	TimestampUnix int64   `gorm:"column:timestamp"`
	RealizedPnL   float64 `gorm:"column:realized_pnl"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
}

func (TradeModel) TableName() string { return "trades" }

// AccountEventModel records every status transition and equity sync.
type AccountEventModel struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement"`
	ChallengeID   string  `gorm:"column:challenge_id;index"`
	FromStatus    string  `gorm:"column:from_status"`
	ToStatus      string  `gorm:"column:to_status"`
	Equity        float64 `gorm:"column:equity"`
	Reason        string  `gorm:"column:reason"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
}

func (AccountEventModel) TableName() string { return "account_events" }
