// Package credentials keeps the portal phone number and PIN in the OS secret vault.
package credentials

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// Service is the vault service name both secrets are stored under
	Service = "freedom-tracker"

	accountPhone = "phone"
	accountPIN   = "pin"
)

// ErrNotConfigured is returned when either secret is missing from the vault
var ErrNotConfigured = errors.New("no credentials configured")

// Credentials are the portal login secrets
type Credentials struct {
	Phone string
	PIN   string
}

// ValidationError reports a malformed phone number or PIN
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Vault is a keyed secret store
type Vault interface {
	Set(account, value string) error
	Get(account string) (string, error) // "" when the account has no entry
	Delete(account string) error
}

// Store reads and writes Credentials through a Vault
type Store struct {
	vault Vault
}

// NewStore creates a credential store backed by vault
func NewStore(vault Vault) *Store {
	return &Store{vault: vault}
}

// Save validates and stores both secrets, replacing any previous values
func (s *Store) Save(c Credentials) error {
	phone, err := ValidatePhone(c.Phone)
	if err != nil {
		return err
	}
	pin, err := ValidatePIN(c.PIN)
	if err != nil {
		return err
	}

	if err := s.vault.Set(accountPhone, phone); err != nil {
		return fmt.Errorf("storing phone: %w", err)
	}
	if err := s.vault.Set(accountPIN, pin); err != nil {
		return fmt.Errorf("storing pin: %w", err)
	}
	return nil
}

// Load returns the stored credentials or ErrNotConfigured
func (s *Store) Load() (Credentials, error) {
	phone, err := s.vault.Get(accountPhone)
	if err != nil {
		return Credentials{}, fmt.Errorf("reading phone: %w", err)
	}
	pin, err := s.vault.Get(accountPIN)
	if err != nil {
		return Credentials{}, fmt.Errorf("reading pin: %w", err)
	}

	if phone == "" || pin == "" {
		return Credentials{}, ErrNotConfigured
	}
	return Credentials{Phone: phone, PIN: pin}, nil
}

// NormalizePhone strips the separators people type into phone numbers
func NormalizePhone(s string) string {
	return strings.NewReplacer("-", "", " ", "", "(", "", ")", "").Replace(strings.TrimSpace(s))
}

// ValidatePhone normalizes s and checks it is exactly 10 digits
func ValidatePhone(s string) (string, error) {
	phone := NormalizePhone(s)
	if len(phone) != 10 || !isDigits(phone) {
		return "", &ValidationError{Field: "phone", Message: "phone number must be 10 digits"}
	}
	return phone, nil
}

// ValidatePIN checks s is exactly 4 digits
func ValidatePIN(s string) (string, error) {
	pin := strings.TrimSpace(s)
	if len(pin) != 4 || !isDigits(pin) {
		return "", &ValidationError{Field: "pin", Message: "PIN must be exactly 4 digits"}
	}
	return pin, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// KeyringVault stores secrets in the OS keyring (Keychain, Secret Service,
// Windows Credential Manager) under a single service name
type KeyringVault struct {
	Service string
}

// NewKeyringVault returns a vault for the default service
func NewKeyringVault() *KeyringVault {
	return &KeyringVault{Service: Service}
}

// Set removes any existing value for account and then inserts the new one.
// Some backends reject duplicate items, so the delete always goes first.
func (v *KeyringVault) Set(account, value string) error {
	if err := v.Delete(account); err != nil {
		return err
	}
	return keyring.Set(v.Service, account, value)
}

// Get returns the stored value, or "" if the account has no entry
func (v *KeyringVault) Get(account string) (string, error) {
	value, err := keyring.Get(v.Service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// Delete removes the account's entry; a missing entry is not an error
func (v *KeyringVault) Delete(account string) error {
	err := keyring.Delete(v.Service, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting %s: %w", account, err)
	}
	return nil
}
