// Package secrets resolves credential references in configuration values.
//
// A value is used as-is unless it starts with a scheme:
//
//	ssm:<parameter-name>      SSM GetParameter with decryption
//	kms:<base64-ciphertext>   KMS Decrypt of the encoded blob
//
// Resolution happens once at startup. Nothing is refreshed afterwards.
package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/invitation-dn/guestgate/internal/xerrors"
)

const (
	ssmPrefix = "ssm:"
	kmsPrefix = "kms:"
)

// ssmAPI is the subset of the SSM client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// kmsAPI is the subset of the KMS client used here.
type kmsAPI interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type Resolver struct {
	ssm ssmAPI
	kms kmsAPI

	mu    sync.Mutex
	cache map[string]string
}

// IsRef reports whether v needs resolving.
func IsRef(v string) bool {
	return strings.HasPrefix(v, ssmPrefix) || strings.HasPrefix(v, kmsPrefix)
}

// AnyRef reports whether any of the values needs resolving, so callers can
// skip loading AWS config entirely.
func AnyRef(values ...string) bool {
	for _, v := range values {
		if IsRef(v) {
			return true
		}
	}
	return false
}

// New builds a Resolver from the default AWS config chain. region overrides
// the chain's region when set.
func New(ctx context.Context, region string) (*Resolver, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}
	return newResolver(ssm.NewFromConfig(awsCfg), kms.NewFromConfig(awsCfg)), nil
}

func newResolver(s ssmAPI, k kmsAPI) *Resolver {
	return &Resolver{ssm: s, kms: k, cache: make(map[string]string)}
}

// Resolve returns the plain value for v. Identical references are fetched
// once.
func (r *Resolver) Resolve(ctx context.Context, v string) (string, error) {
	if !IsRef(v) {
		return v, nil
	}
	r.mu.Lock()
	if out, ok := r.cache[v]; ok {
		r.mu.Unlock()
		return out, nil
	}
	r.mu.Unlock()

	var (
		out string
		err error
	)
	switch {
	case strings.HasPrefix(v, ssmPrefix):
		out, err = r.fromSSM(ctx, strings.TrimPrefix(v, ssmPrefix))
	default:
		out, err = r.fromKMS(ctx, strings.TrimPrefix(v, kmsPrefix))
	}
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[v] = out
	r.mu.Unlock()
	return out, nil
}

// ResolveAll rewrites each field in place. Every failure is reported and
// fields that failed keep their reference.
func (r *Resolver) ResolveAll(ctx context.Context, fields map[string]*string) error {
	var errs []error
	for name, p := range fields {
		if p == nil || !IsRef(*p) {
			continue
		}
		v, err := r.Resolve(ctx, *p)
		if err != nil {
			errs = append(errs, xerrors.Wrapf(err, "resolve %s", name))
			continue
		}
		*p = v
	}
	return errors.Join(errs...)
}

func (r *Resolver) fromSSM(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", xerrors.New("empty ssm parameter name")
	}
	if r.ssm == nil {
		return "", xerrors.New("ssm client is not configured")
	}
	out, err := r.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}

func (r *Resolver) fromKMS(ctx context.Context, encoded string) (string, error) {
	if r.kms == nil {
		return "", xerrors.New("kms client is not configured")
	}
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", xerrors.Wrap(err, "decode kms ciphertext")
	}
	if len(blob) == 0 {
		return "", xerrors.New("empty kms ciphertext")
	}
	out, err := r.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", xerrors.Wrap(err, "kms decrypt")
	}
	v := strings.TrimSpace(string(out.Plaintext))
	if v == "" {
		return "", xerrors.New("kms plaintext is empty")
	}
	return v, nil
}
