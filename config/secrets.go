package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/rpupo63/postzen-backend/errs"
)

// ssmParamSuffix marks a key whose value names an SSM parameter holding the real secret.
// JWT_SECRET_SSM_PARAM=/postzen/prod/jwt fills JWT_SECRET when it is not set directly.
const ssmParamSuffix = "_SSM_PARAM"

type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveSecrets fills every KEY that has a KEY_SSM_PARAM companion and no value of its own.
// The SSM client is only created when at least one parameter must be fetched.
func ResolveSecrets(ctx context.Context, config map[string]string, client ParameterGetter) error {
	for key, param := range config {
		if !strings.HasSuffix(key, ssmParamSuffix) || param == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if config[target] != "" {
			continue
		}

		if client == nil {
			c, err := newSSMClient(ctx)
			if err != nil {
				return errs.NewConfigError(target, err)
			}
			client = c
		}

		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(param),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return errs.NewConfigError(target, fmt.Errorf("get parameter %s: %w", param, err))
		}
		if out.Parameter == nil || out.Parameter.Value == nil {
			return errs.NewConfigError(target, fmt.Errorf("parameter %s has no value", param))
		}

		config[target] = aws.ToString(out.Parameter.Value)
		log.Info().Str("key", target).Str("parameter", param).Msg("resolved secret from SSM")
	}
	return nil
}

func newSSMClient(ctx context.Context) (*ssm.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return ssm.NewFromConfig(cfg), nil
}
