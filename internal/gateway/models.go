package gateway

// CreatePayload is the create-payment body in the gateway's own vocabulary.
type CreatePayload struct {
	TotalPrice   string         `json:"totalPrice"`
	Articles     []Article      `json:"article"`
	PersonalInfo []PersonalInfo `json:"personal_Info"`
	Phone        string         `json:"numeroSend"`
	CustomerName string         `json:"nomclient"`
	ReturnURL    string         `json:"return_url,omitempty"`
	WebhookURL   string         `json:"webhook_url,omitempty"`
}

type Article struct {
	Name     string `json:"nom"`
	Amount   int64  `json:"montant"`
	Quantity int    `json:"quantite"`
}

type PersonalInfo struct {
	UserID  *string `json:"userId"`
	OrderID *string `json:"orderId"`
}

// CreateResponse is returned by create-payment. The gateway has used both
// "statut" and "status" for the success flag.
type CreateResponse struct {
	Statut  *bool  `json:"statut"`
	Status  *bool  `json:"status"`
	Token   string `json:"token"`
	URL     string `json:"url"`
	Message string `json:"message"`

	Raw map[string]any `json:"-"`
}

func (r *CreateResponse) OK() bool {
	return successFlag(r.Statut, r.Status)
}

type CheckResponse struct {
	Statut  *bool          `json:"statut"`
	Status  *bool          `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`

	Raw map[string]any `json:"-"`
}

func (r *CheckResponse) OK() bool {
	return successFlag(r.Statut, r.Status)
}

// PaymentStatus is data.statut, e.g. "pending" or "paid".
func (r *CheckResponse) PaymentStatus() string {
	return stringField(r.Data, "statut")
}

func (r *CheckResponse) TransactionRef() string {
	return stringField(r.Data, "numeroTransaction")
}

func (r *CheckResponse) Method() string {
	return stringField(r.Data, "moyen")
}

func successFlag(statut, status *bool) bool {
	if statut != nil {
		return *statut
	}
	return status != nil && *status
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
