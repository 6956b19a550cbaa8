package configx

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/gdp-tracker/gdp-backend/pkg/validator"
	"github.com/spf13/viper"
)

const defaultConfigBaseName = "property"

// Defaulter is implemented by configurations that carry default values.
type Defaulter interface {
	Defaults() map[string]any
}

// MissingConfigError lists the environment keys that are required but empty.
type MissingConfigError struct {
	Keys []string
}

func (e *MissingConfigError) Error() string {
	return "missing required configuration: " + strings.Join(e.Keys, ", ")
}

func LoadConfigForEnv(config any) error {
	return ReadConfiguration(getEnvPropertyFileName(defaultConfigBaseName), config)
}

// LoadConfigFromPathForEnv - search the property-<ENV> properties in the given search path (for ex. "./config" )
func LoadConfigFromPathForEnv(searchPath string, config any) error {
	if searchPath == "" {
		return LoadConfigForEnv(config)
	}

	searchPath = strings.TrimSuffix(searchPath, "/")

	return ReadConfiguration(getEnvPropertyFileName(fmt.Sprintf("%s/%s", searchPath, defaultConfigBaseName)), config)
}

// ReadConfiguration reads the configuration from the file and environment variables.
// The file is optional; environment variables always take precedence.
func ReadConfiguration(configFilePath string, config any) error {
	v := viper.New()
	v.SetConfigFile(configFilePath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if d, ok := config.(Defaulter); ok {
		for key, value := range d.Defaults() {
			v.SetDefault(key, value)
		}
	}

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range mapstructureKeys(reflect.TypeOf(config), "") {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("unable to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err == nil {
		log.Printf("Reading configuration from config file: %s (environment variables override it)", configFilePath)
	} else {
		log.Println("No configuration file found, reading configuration from environment variables.")
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unable to decode into config struct, %w", err)
	}

	return nil
}

// ValidateRequired runs the validate tags of config and reports failures by their env tag.
func ValidateRequired(config any) error {
	failures := validator.NewFieldTagValidator("env").ValidateStruct(config)
	if len(failures) == 0 {
		return nil
	}

	keys := make([]string, 0, len(failures))
	for _, f := range failures {
		keys = append(keys, f.Field)
	}

	sort.Strings(keys)

	return &MissingConfigError{Keys: keys}
}

func mapstructureKeys(t reflect.Type, prefix string) []string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return nil
	}

	var keys []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("mapstructure")
		name, opts, _ := strings.Cut(tag, ",")

		ft := field.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		if strings.Contains(opts, "squash") {
			keys = append(keys, mapstructureKeys(ft, prefix)...)
			continue
		}

		if name == "" {
			name = strings.ToLower(field.Name)
		}

		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		if ft.Kind() == reflect.Struct && ft.String() != "time.Time" {
			keys = append(keys, mapstructureKeys(ft, key)...)
			continue
		}

		keys = append(keys, key)
	}

	return keys
}

func getEnvPropertyFileName(baseFileName string) string {
	env := strings.ToUpper(os.Getenv("ENVIRONMENT"))
	if !checkIfLocalEnv(env) {
		return fmt.Sprintf("%s-%s.yaml", baseFileName, strings.ToLower(env))
	}

	return fmt.Sprintf("%s.yaml", baseFileName)
}

func checkIfLocalEnv(env string) bool {
	switch strings.ToUpper(env) {
	case "DEV", "STAGE", "PROD":
		return false
	}

	return true
}
