package domain

import (
	"strconv"
	"strings"
)

// MaxAccessKeys is the access-key quota per service account.
const MaxAccessKeys = 2

// Secret-store path layout for service accounts. Metadata documents live
// under the metadata mount; secret material lives only in per-key leaves.
const (
	SecretMount        = "iamsvcacc/"
	MetadataMount      = "metadata/iamsvcacc/"
	SecretFolderPrefix = "secret_"
)

// Access strings as carried in onboarding requests, permission requests and
// metadata binding maps.
const (
	AccessRead   = "read"
	AccessWrite  = "write"
	AccessDeny   = "deny"
	AccessRotate = "rotate"
	AccessSudo   = "sudo"
)

// LevelForAccess maps an access string to its token level. Rotate is an
// alias for write: rotating a key requires writing its secret leaf.
func LevelForAccess(access string) (Level, bool) {
	switch strings.ToLower(access) {
	case AccessRead:
		return LevelRead, true
	case AccessWrite, AccessRotate:
		return LevelWrite, true
	case AccessDeny:
		return LevelDeny, true
	case AccessSudo:
		return LevelOwner, true
	}
	return "", false
}

// AccountState is the explicit lifecycle state of a service account.
type AccountState string

const (
	StatePending    AccountState = "pending"
	StateActivated  AccountState = "activated"
	StateOffboarded AccountState = "offboarded"
)

// stateTransitions is the allowed transition table. Anything not listed is
// rejected.
var stateTransitions = map[AccountState][]AccountState{
	StatePending:   {StateActivated, StateOffboarded},
	StateActivated: {StateOffboarded},
}

// CanTransition reports whether moving from s to next is allowed.
func (s AccountState) CanTransition(next AccountState) bool {
	for _, allowed := range stateTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Owner identifies the owning principal of a service account.
type Owner struct {
	NTID  string `json:"owner_ntid"`
	Email string `json:"owner_email"`
}

// Application is the application metadata attached to a service account.
type Application struct {
	ID   string `json:"application_id"`
	Name string `json:"application_name"`
	Tag  string `json:"application_tag"`
}

// AccessKey is a cloud credential pair with an expiry. SecretKey is stored
// only in the account's secret leaf, never in metadata.
type AccessKey struct {
	AccessKeyID string `json:"accessKeyId"`
	SecretKey   string `json:"accessKeySecret,omitempty"`
	Expiry      int64  `json:"expiryDateEpoch"`
	CreatedAt   int64  `json:"createDtEpoch,omitempty"`
	Status      string `json:"status,omitempty"`
}

// AccessKeyRef is the metadata-side view of an access key: the key id and
// expiry only.
type AccessKeyRef struct {
	AccessKeyID string `json:"accessKeyId"`
	Expiry      int64  `json:"expiryDuration"`
}

// ServiceAccount is an onboarding request: the account identity, owner and
// the initial access keys to store.
type ServiceAccount struct {
	AccountID        string         `json:"awsAccountId"`
	Name             string         `json:"userName"`
	Owner            Owner          `json:"owner"`
	Application      Application    `json:"application"`
	SelfSupportGroup string         `json:"adSelfSupportGroup,omitempty"`
	GroupAccess      string         `json:"groupAccess,omitempty"`
	AccessKeys       []AccessKeyRef `json:"secret"`
}

// UniqueName returns the store-wide identity of the account.
func (a ServiceAccount) UniqueName() string {
	return UniqueName(a.AccountID, a.Name)
}

// UniqueName builds the <accountId>_<name> identity used in paths and
// policy names. Account identity is unique across the whole store.
func UniqueName(accountID, name string) string {
	return accountID + "_" + strings.ToLower(name)
}

// Metadata is the account's metadata document in the secret store: the
// single source of truth for account fields and principal bindings.
type Metadata struct {
	Name           string       `json:"userName"`
	AccountID      string       `json:"awsAccountId"`
	CreatedAtEpoch int64        `json:"createdAtEpoch"`
	OwnerNTID      string       `json:"owner_ntid"`
	OwnerEmail     string       `json:"owner_email"`
	ApplicationID  string       `json:"application_id"`
	AppName        string       `json:"application_name"`
	AppTag         string       `json:"application_tag"`
	State          AccountState `json:"state"`

	AccessKeys []AccessKeyRef `json:"secret"`

	// Principal bindings: name -> access string.
	Users    map[string]string `json:"users,omitempty"`
	Groups   map[string]string `json:"groups,omitempty"`
	AppRoles map[string]string `json:"app-roles,omitempty"`
	AWSRoles map[string]string `json:"aws-roles,omitempty"`
}

// MetadataPath returns the metadata document path for an account.
func MetadataPath(accountID, name string) string {
	return MetadataMount + UniqueName(accountID, name)
}

// SecretPath returns the secret leaf path for the n-th access key
// (1-based) of an account.
func SecretPath(accountID, name string, n int) string {
	return SecretMount + UniqueName(accountID, name) + "/" + SecretFolderPrefix + strconv.Itoa(n)
}

// HasKey reports whether the metadata lists the given access key id, and
// its 1-based position in the list when present.
func (m *Metadata) HasKey(keyID string) (int, bool) {
	for i, ref := range m.AccessKeys {
		if ref.AccessKeyID == keyID {
			return i + 1, true
		}
	}
	return 0, false
}
