package domain

// Facts 是评估资格条件时可用的用户属性，字段名即条件表达式中的变量名。
type Facts struct {
	Country     string `json:"country"`
	Platform    string `json:"platform"`
	Plan        string `json:"plan"`
	TenureDays  int64  `json:"tenureDays"`
	LapsedDays  int64  `json:"lapsedDays"`
	NewCustomer bool   `json:"newCustomer"`
}

// Activation 返回条件求值使用的变量表。
func (f Facts) Activation() map[string]any {
	return map[string]any{
		"country":     f.Country,
		"platform":    f.Platform,
		"plan":        f.Plan,
		"tenureDays":  f.TenureDays,
		"lapsedDays":  f.LapsedDays,
		"newCustomer": f.NewCustomer,
	}
}
