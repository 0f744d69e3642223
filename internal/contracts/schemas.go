package contracts

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"strings"

	"listing-pipeline-service/schemas"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Имена контрактов, под которыми регистрируются схемы
const (
	SearchFiltersRequest      = "SearchFiltersRequest"
	RunOptionsRequest         = "RunOptionsRequest"
	SweepRequest              = "SweepRequest"
	PipelineRunRequest        = "PipelineRunRequest"
	PipelineRunCompletedEvent = "PipelineRunCompletedEvent"
	CurrentVersion            = "1.0.0"
)

// Каталоги схем и суффикс имени контракта для каждого
var kindSuffixes = map[string]string{
	"requests": "Request",
	"events":   "Event",
}

var compiledSchemas = make(map[string]*jsonschema.Schema)

func init() {
	if err := compileAll(schemas.SchemasFS); err != nil {
		log.Fatalf("contracts: %v", err)
	}
}

// compileAll добавляет все схемы как ресурсы, чтобы работали взаимные $ref,
// затем компилирует и регистрирует каждую под ключом из пути
func compileAll(fsys fs.FS) error {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	var paths []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		file, err := fsys.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		if err := compiler.AddResource(path, file); err != nil {
			return fmt.Errorf("failed to add schema resource %s: %w", path, err)
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("error walking schema resources: %w", err)
	}

	for _, path := range paths {
		key := generateKeyFromPath(path)
		if key == "" {
			log.Printf("WARNING: schema %s does not follow <kind>/<name>/v<N>.json layout. Skipping.", path)
			continue
		}
		schema, err := compiler.Compile(path)
		if err != nil {
			return fmt.Errorf("could not compile schema %s: %w", path, err)
		}
		compiledSchemas[key] = schema
	}
	return nil
}

// generateKeyFromPath преобразует путь вида "requests/pipeline-run/v1.json"
// в ключ вида "PipelineRunRequest/1.0.0"
func generateKeyFromPath(path string) string {
	parts := strings.Split(strings.TrimSuffix(path, ".json"), "/")
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "v") {
		return ""
	}
	suffix, ok := kindSuffixes[parts[0]]
	if !ok {
		return ""
	}

	caser := cases.Title(language.English)
	var name strings.Builder
	for _, p := range strings.Split(parts[1], "-") {
		name.WriteString(caser.String(p))
	}
	name.WriteString(suffix)

	version := strings.TrimPrefix(parts[2], "v") + ".0.0"
	return fmt.Sprintf("%s/%s", name.String(), version)
}

// Validate проверяет тело сообщения или запроса по схеме контракта
func Validate(contract, version string, body []byte) error {
	key := fmt.Sprintf("%s/%s", contract, version)
	schema, ok := compiledSchemas[key]
	if !ok {
		return fmt.Errorf("schema for contract '%s' version '%s' not found", contract, version)
	}

	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("body is not a valid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("JSON schema validation failed: %w", err)
	}
	return nil
}

// Known возвращает зарегистрированные ключи контрактов
func Known() []string {
	keys := make([]string, 0, len(compiledSchemas))
	for k := range compiledSchemas {
		keys = append(keys, k)
	}
	return keys
}
