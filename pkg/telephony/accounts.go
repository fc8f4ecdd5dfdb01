package telephony

import "context"

// AccountSource lists the phone accounts able to place calls.
type AccountSource interface {
	Accounts(ctx context.Context) ([]Account, error)
}

// SelectAccount picks the account for an outgoing call: the default account,
// else the only non-emergency account. It returns nil when neither exists.
func SelectAccount(accounts []Account) *Account {
	for i := range accounts {
		if accounts[i].Default {
			acct := accounts[i]
			return &acct
		}
	}

	var found *Account
	for i := range accounts {
		if accounts[i].Emergency {
			continue
		}
		if found != nil {
			return nil
		}
		acct := accounts[i]
		found = &acct
	}
	return found
}
