package schema

// Account identifies one trading account and its streaming credentials.
// CredentialRef is opaque to the feed core; only the transport's authenticator
// interprets it.
type Account struct {
	ID            string
	Name          string
	CredentialRef string
	Enabled       bool
	Endpoint      string
}

// EnabledAccounts filters accounts down to the enabled ones, preserving order.
func EnabledAccounts(accounts []Account) []Account {
	out := make([]Account, 0, len(accounts))
	for _, acct := range accounts {
		if acct.Enabled {
			out = append(out, acct)
		}
	}
	return out
}
