package webhook

// Kind names a provider callback shape. Each kind has a fixed, ordered list
// of fields that make up its canonical string.
type Kind string

const (
	// KindTransaction is the server-to-server transaction event.
	KindTransaction Kind = "transaction"
	// KindRedirection is the browser redirection callback (flat query string).
	KindRedirection Kind = "redirection"
	// KindDisbursement is the payout status callback.
	KindDisbursement Kind = "disbursement"
)

// field is one canonical field. alias is a flat key tried when the dotted
// path is absent, as in query-string callbacks.
type field struct {
	path  string
	alias string
}

var transactionFields = []field{
	{path: "amount_cents"},
	{path: "created_at"},
	{path: "currency"},
	{path: "error_occured"},
	{path: "has_parent_transaction"},
	{path: "id"},
	{path: "integration_id"},
	{path: "is_3d_secure"},
	{path: "is_auth"},
	{path: "is_capture"},
	{path: "is_refunded"},
	{path: "is_standalone_payment"},
	{path: "is_voided"},
	{path: "order.id", alias: "order"},
	{path: "owner"},
	{path: "pending"},
	{path: "source_data.pan"},
	{path: "source_data.sub_type"},
	{path: "source_data.type"},
	{path: "success"},
}

var disbursementFields = []field{
	{path: "id"},
	{path: "client_reference"},
	{path: "amount"},
	{path: "status"},
	{path: "disbursement_status"},
	{path: "created_at"},
}

var fieldsByKind = map[Kind][]field{
	KindTransaction:  transactionFields,
	KindRedirection:  transactionFields,
	KindDisbursement: disbursementFields,
}

// Valid reports whether k has a canonical field list.
func (k Kind) Valid() bool {
	_, ok := fieldsByKind[k]
	return ok
}
