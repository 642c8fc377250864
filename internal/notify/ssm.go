package notify

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/natours-api/internal/xerrors"
)

// ParameterGetter is the subset of the SSM API used to read the relay
// password.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// PasswordFromSSM reads a SecureString parameter holding the SMTP password.
func PasswordFromSSM(ctx context.Context, client ParameterGetter, name string) (string, error) {
	if name == "" {
		return "", xerrors.New("notify: ssm parameter name is required")
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	pw := strings.TrimSpace(*out.Parameter.Value)
	if pw == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return pw, nil
}
