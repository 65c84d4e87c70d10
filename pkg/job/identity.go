package job

import (
	"strings"

	"github.com/google/uuid"

	"github.com/sdejongh/bucketsync/pkg/models"
)

// Identity is the deterministic key that keeps one run per sync configuration
type Identity string

const identityPrefix = "sync_"

func (i Identity) String() string { return string(i) }

// ConfigID returns the configuration id of params. An explicit ConfigID is
// used as is; otherwise a name-based UUID is derived from the endpoint, the
// bucket, the source and the direction so that the same configuration always
// maps to the same id.
func ConfigID(params *models.JobParams) string {
	if params.ConfigID != "" {
		return params.ConfigID
	}
	name := strings.Join([]string{
		strings.TrimRight(params.EndpointURL, "/"),
		params.Bucket,
		string(params.Source.Type),
		params.Source.Path,
		string(params.Direction),
	}, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// IdentityFor returns the job identity of params
func IdentityFor(params *models.JobParams) Identity {
	return Identity(identityPrefix + ConfigID(params))
}

// NewRunID returns a fresh identifier for one run of a job
func NewRunID() string {
	return uuid.NewString()
}
