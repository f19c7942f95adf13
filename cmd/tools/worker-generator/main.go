// cmd/tools/worker-generator/main.go
//
// Scaffolds a new job worker package from its activity registry entry:
// config.go, models.go, handler.go and handler_test.go in the same shape
// as the existing matching workers. The generated handler validates job
// variables against the registry's input schema and routes failures
// through the shared error handler; execute is left for the author.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"cardtrade-workers/pkg/registry"
)

type workerData struct {
	ID           string
	PackageName  string
	TaskType     string
	Description  string
	CategoryDir  string
	TimeoutSec   int
	InputFields  string
	OutputFields string
	SchemaLit    string
	FirstField   string
}

func main() {
	activity := flag.String("activity", "", "Activity ID from the registry (e.g., find-matches)")
	outputDir := flag.String("output", "./internal/workers/", "Output directory for the generated worker")
	registryPath := flag.String("registry", "configs/activity-registry.json", "Path to the activity registry JSON file")
	flag.Parse()

	if *activity == "" {
		fmt.Println("Usage: worker-generator --activity <id> [--output <dir>] [--registry <path>]")
		fmt.Println("\nExample:")
		fmt.Println("  go run cmd/tools/worker-generator/main.go --activity find-matches")
		os.Exit(1)
	}

	reg, err := registry.LoadRegistry(*registryPath)
	if err != nil {
		fmt.Printf("Error loading registry from %s: %v\n", *registryPath, err)
		os.Exit(1)
	}

	var found *registry.Activity
	for i := range reg.Activities {
		if reg.Activities[i].ID == *activity {
			found = &reg.Activities[i]
			break
		}
	}
	if found == nil {
		fmt.Printf("Activity '%s' not found in registry %s\n", *activity, *registryPath)
		os.Exit(1)
	}

	data := workerData{
		ID:           found.ID,
		PackageName:  strings.ReplaceAll(found.ID, "-", ""),
		TaskType:     found.TaskType,
		Description:  found.Description,
		CategoryDir:  categoryDir(found.Category),
		TimeoutSec:   timeoutSeconds(found.Timeout),
		InputFields:  structFields(found.InputSchema),
		OutputFields: structFields(found.OutputSchema),
		SchemaLit:    goLiteral(found.InputSchema, "\t"),
		FirstField:   exportName(firstRequiredField(found.InputSchema)),
	}

	workerDir := filepath.Join(*outputDir, data.CategoryDir, found.ID)
	if err := os.MkdirAll(workerDir, 0755); err != nil {
		fmt.Printf("Error creating directory: %v\n", err)
		os.Exit(1)
	}

	files := map[string]string{
		"config.go":       configTemplate,
		"models.go":       modelsTemplate,
		"handler.go":      handlerTemplate,
		"handler_test.go": testTemplate,
	}

	for filename, tmplStr := range files {
		tmpl, err := template.New(filename).Parse(tmplStr)
		if err != nil {
			fmt.Printf("Error parsing template %s: %v\n", filename, err)
			continue
		}

		filePath := filepath.Join(workerDir, filename)
		file, err := os.Create(filePath)
		if err != nil {
			fmt.Printf("Error creating file %s: %v\n", filePath, err)
			continue
		}
		if err := tmpl.Execute(file, data); err != nil {
			fmt.Printf("Error executing template for %s: %v\n", filename, err)
		}
		file.Close()

		fmt.Printf("✓ Generated %s\n", filePath)
	}

	fmt.Printf("\n✅ Worker scaffold generated at: %s\n", workerDir)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("  1. Implement execute in handler.go\n")
	fmt.Printf("  2. Fill in the handler tests\n")
	fmt.Printf("  3. Register the worker in cmd/worker-manager/main.go\n")
	fmt.Printf("  4. Add the task type to configs/config.yaml under workers\n")
}

func categoryDir(category string) string {
	switch category {
	case "match-making", "matching":
		return "matching"
	default:
		return strings.ToLower(category)
	}
}

func timeoutSeconds(raw string) int {
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 10
	}
	sec := ms / 1000
	if sec == 0 {
		sec = 1
	}
	return sec
}

// structFields renders the Go fields for an Input or Output struct from a
// JSON schema's properties, sorted for stable output.
func structFields(schema map[string]interface{}) string {
	props, ok := schema["properties"].(map[string]interface{})
	if !ok || len(props) == 0 {
		return ""
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	required := map[string]bool{}
	if reqs, ok := schema["required"].([]interface{}); ok {
		for _, r := range reqs {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	var b strings.Builder
	for _, name := range names {
		details, _ := props[name].(map[string]interface{})
		tag := name
		if !required[name] {
			tag += ",omitempty"
		}
		fmt.Fprintf(&b, "\t%s %s `json:%q`\n", exportName(name), goType(details), tag)
	}
	return strings.TrimRight(b.String(), "\n")
}

func goType(details map[string]interface{}) string {
	jt, _ := details["type"].(string)
	switch jt {
	case "string":
		return "string"
	case "integer":
		return "int"
	case "number":
		return "float64"
	case "boolean":
		return "bool"
	case "array":
		return "[]interface{}"
	case "object":
		return "map[string]interface{}"
	default:
		return "interface{}"
	}
}

// exportName uppercases the leading segment and normalizes the Id suffix.
func exportName(prop string) string {
	if prop == "" {
		return prop
	}
	name := strings.ToUpper(prop[:1]) + prop[1:]
	if strings.HasSuffix(name, "Id") {
		name = strings.TrimSuffix(name, "Id") + "ID"
	}
	return name
}

func firstRequiredField(schema map[string]interface{}) string {
	if reqs, ok := schema["required"].([]interface{}); ok && len(reqs) > 0 {
		if s, ok := reqs[0].(string); ok {
			return s
		}
	}
	return ""
}

// goLiteral renders a decoded JSON value as a Go composite literal, so the
// registry's input schema lands in the generated handler exactly as the
// hand-written workers declare theirs.
func goLiteral(v interface{}, indent string) string {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 0 {
			return "map[string]interface{}{}"
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("map[string]interface{}{\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s\t%q: %s,\n", indent, k, goLiteral(t[k], indent+"\t"))
		}
		fmt.Fprintf(&b, "%s}", indent)
		return b.String()
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, goLiteral(item, indent))
		}
		return "[]interface{}{" + strings.Join(parts, ", ") + "}"
	case string:
		return strconv.Quote(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return "nil"
	}
}

const configTemplate = `// internal/workers/{{ .CategoryDir }}/{{ .ID }}/config.go
package {{ .PackageName }}

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: {{ .TimeoutSec }} * time.Second,
	}
}
`

const modelsTemplate = `// internal/workers/{{ .CategoryDir }}/{{ .ID }}/models.go
package {{ .PackageName }}

type Input struct {
{{ .InputFields }}
}

type Output struct {
{{ .OutputFields }}
}
`

const handlerTemplate = `// internal/workers/{{ .CategoryDir }}/{{ .ID }}/handler.go
package {{ .PackageName }}

import (
	"context"
	"encoding/json"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/xeipuuv/gojsonschema"

	"cardtrade-workers/internal/common/errors"
	"cardtrade-workers/internal/common/logger"
)

const (
	TaskType = "{{ .TaskType }}"
)

var inputSchema = {{ .SchemaLit }}

type Handler struct {
	config     *Config
	logger     logger.Logger
	errHandler *errors.ErrorHandler
}

func NewHandler(config *Config, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		logger:     l,
		errHandler: errors.NewErrorHandler(l),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := parseInput(job.Variables)
	if err != nil {
		h.errHandler.HandleJobError(ctx, client, job, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.errHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(client, job, output)
}

func parseInput(variables string) (*Input, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(inputSchema),
		gojsonschema.NewStringLoader(variables),
	)
	if err != nil {
		return nil, errors.NewInvalidJobPayloadError(err.Error())
	}
	if !result.Valid() {
		details := ""
		for _, desc := range result.Errors() {
			if details != "" {
				details += "; "
			}
			details += desc.String()
		}
		return nil, errors.NewInvalidJobPayloadError(details)
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, errors.NewInvalidJobPayloadError(err.Error())
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	// TODO: implement {{ .ID }} ({{ .Description }})
	return &Output{}, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
`

const testTemplate = `// internal/workers/{{ .CategoryDir }}/{{ .ID }}/handler_test.go
package {{ .PackageName }}

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardtrade-workers/internal/common/errors"
)

func createTestConfig() *Config {
	return &Config{Timeout: 10 * time.Second}
}
{{ if .FirstField }}
func TestParseInput_Missing{{ .FirstField }}(t *testing.T) {
	_, err := parseInput(` + "`{}`" + `)
	require.Error(t, err)

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeInvalidJobPayload, stdErr.Code)
}
{{ end }}
func TestParseInput_MalformedJSON(t *testing.T) {
	_, err := parseInput(` + "`{not json`" + `)
	require.Error(t, err)

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeInvalidJobPayload, stdErr.Code)
}
`
