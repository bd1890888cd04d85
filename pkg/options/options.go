package options

import (
	"github.com/spf13/pflag"
)

// IOptions defines the contract every option group satisfies so the server
// command can validate and bind them uniformly.
type IOptions interface {
	// Validate checks the option values entered by the user.
	Validate() []error

	// AddFlags binds the option fields to the given FlagSet.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}
