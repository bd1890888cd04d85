package options

import (
	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures the optional S3 mirror for firmware images.
type S3Options struct {
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool   `json:"use-ssl" mapstructure:"use-ssl"`
	BucketName      string `json:"bucket-name" mapstructure:"bucket-name"`
	Region          string `json:"region" mapstructure:"region"`
}

// NewS3Options creates a new S3Options with default values.
func NewS3Options() *S3Options {
	return &S3Options{
		UseSSL:     true,
		BucketName: "firmware",
		Region:     "us-east-1",
	}
}

// Enabled reports whether an S3 mirror was configured.
func (o *S3Options) Enabled() bool {
	return o != nil && o.Endpoint != ""
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *S3Options) Validate() []error {
	return nil
}

// AddFlags adds flags for S3Options to the specified FlagSet.
func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint; empty disables the firmware mirror.")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID.")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key.")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for the S3 connection.")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket name for firmware images.")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region.")
}
