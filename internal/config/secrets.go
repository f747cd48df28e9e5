package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret using the *_FILE convention: when
// envName+"_FILE" is set the secret is read from that file, otherwise the
// value of envName is used. Neither set yields "".
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

func (c *Config) resolveSecrets() error {
	secrets := []struct {
		env string
		dst *string
	}{
		{"PGPASSWORD", &c.Postgres.Password},
		{"SUTERA_MQTT_PASSWORD", &c.MQTT.Password},
		{"SUTERA_ADMIN_USER", &c.Auth.AdminUser},
		{"SUTERA_ADMIN_PASS", &c.Auth.AdminPass},
		{"SUTERA_OPERATOR_USER", &c.Auth.OperatorUser},
		{"SUTERA_OPERATOR_PASS", &c.Auth.OperatorPass},
	}
	for _, s := range secrets {
		v, err := ResolveSecret(s.env)
		if err != nil {
			return err
		}
		if v != "" {
			*s.dst = v
		}
	}
	return nil
}
