// cmd/tools/registry-updater/main.go
//
// Maintains configs/activity-registry.json, the task-type registry the
// worker manager cross-checks at startup. Error codes and categories are
// validated against what the module actually defines, so the registry
// cannot drift from the code.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cardtrade-workers/internal/common/errors"
	"cardtrade-workers/pkg/registry"
)

const defaultRegistryPath = "configs/activity-registry.json"

var knownCategories = map[string]bool{
	"match-making": true,
	"matching":     true,
}

var knownErrorCodes = map[string]bool{
	string(errors.ErrCodeListStorageFailed):      true,
	string(errors.ErrCodeIndexLookupFailed):      true,
	string(errors.ErrCodeScopeFilterFailed):      true,
	string(errors.ErrCodeMatchPersistFailed):     true,
	string(errors.ErrCodeRunSuperseded):          true,
	string(errors.ErrCodeRunBudgetExceeded):      true,
	string(errors.ErrCodeInvalidJobPayload):      true,
	string(errors.ErrCodeInvalidScope):           true,
	string(errors.ErrCodeInvalidationFailed):     true,
	string(errors.ErrCodeNotificationSendFailed): true,
}

func main() {
	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "add":
		err = runAdd(os.Args[2:])
	case "update":
		err = runUpdate(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "help":
		help()
	default:
		help()
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	path := fs.String("path", defaultRegistryPath, "Path to the registry file")
	id := fs.String("id", "", "Activity ID (e.g., find-matches)")
	displayName := fs.String("displayName", "", "Display name (e.g., Find Matches)")
	description := fs.String("description", "", "Description")
	category := fs.String("category", "match-making", "Category")
	taskType := fs.String("taskType", "", "Zeebe task type (defaults to the activity ID)")
	version := fs.String("version", "1.0.0", "Version")
	status := fs.String("status", "planned", "Implementation status (planned, in-progress, completed, verified)")
	timeoutMS := fs.Int("timeout", 10000, "Job timeout in milliseconds")
	fs.Parse(args)

	if *id == "" || *displayName == "" || *description == "" {
		fs.Usage()
		return fmt.Errorf("id, displayName and description are required")
	}
	if !knownCategories[*category] {
		return fmt.Errorf("unknown category %q", *category)
	}
	if *taskType == "" {
		*taskType = *id
	}

	reg, err := loadOrCreate(*path)
	if err != nil {
		return err
	}
	for _, existing := range reg.Activities {
		if existing.ID == *id {
			return fmt.Errorf("activity %s already exists", *id)
		}
		if existing.TaskType == *taskType {
			return fmt.Errorf("task type %s already registered by %s", *taskType, existing.ID)
		}
	}

	reg.Activities = append(reg.Activities, registry.Activity{
		ID:                   *id,
		DisplayName:          *displayName,
		Description:          *description,
		Category:             *category,
		Version:              *version,
		TaskType:             *taskType,
		ImplementationStatus: *status,
		InputSchema:          map[string]interface{}{},
		OutputSchema:         map[string]interface{}{},
		ErrorCodes:           []string{string(errors.ErrCodeInvalidJobPayload)},
		Timeout:              strconv.Itoa(*timeoutMS),
		Retries:              3,
		Workflows:            []string{},
		Tags:                 []string{},
	})

	if err := save(reg, *path); err != nil {
		return err
	}
	fmt.Printf("Added activity: %s\n", *id)
	return nil
}

func runUpdate(args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	path := fs.String("path", defaultRegistryPath, "Path to the registry file")
	id := fs.String("id", "", "Activity ID to update")
	field := fs.String("field", "", "Field to update (status, version, displayName, description, timeout, retries)")
	value := fs.String("value", "", "New value")
	fs.Parse(args)

	if *id == "" || *field == "" || *value == "" {
		fs.Usage()
		return fmt.Errorf("id, field and value are required")
	}

	reg, err := registry.LoadRegistry(*path)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	for i := range reg.Activities {
		if reg.Activities[i].ID != *id {
			continue
		}
		switch *field {
		case "status":
			reg.Activities[i].ImplementationStatus = *value
		case "version":
			reg.Activities[i].Version = *value
		case "displayName":
			reg.Activities[i].DisplayName = *value
		case "description":
			reg.Activities[i].Description = *value
		case "timeout":
			if _, err := strconv.Atoi(*value); err != nil {
				return fmt.Errorf("timeout must be milliseconds: %w", err)
			}
			reg.Activities[i].Timeout = *value
		case "retries":
			retries, err := strconv.Atoi(*value)
			if err != nil {
				return fmt.Errorf("invalid retries value: %w", err)
			}
			reg.Activities[i].Retries = retries
		default:
			return fmt.Errorf("unknown field: %s", *field)
		}

		if err := save(reg, *path); err != nil {
			return err
		}
		fmt.Printf("Updated %s: %s = %s\n", *id, *field, *value)
		return nil
	}
	return fmt.Errorf("activity %s not found", *id)
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("path", defaultRegistryPath, "Path to the registry file")
	fs.Parse(args)

	reg, err := registry.LoadRegistry(*path)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	if len(reg.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	ids := map[string]bool{}
	taskTypes := map[string]bool{}
	for _, act := range reg.Activities {
		if act.ID == "" {
			return fmt.Errorf("activity missing id")
		}
		if ids[act.ID] {
			return fmt.Errorf("duplicate activity id: %s", act.ID)
		}
		ids[act.ID] = true

		if act.TaskType == "" {
			return fmt.Errorf("activity %s missing taskType", act.ID)
		}
		if taskTypes[act.TaskType] {
			return fmt.Errorf("duplicate task type: %s", act.TaskType)
		}
		taskTypes[act.TaskType] = true

		if act.DisplayName == "" {
			return fmt.Errorf("activity %s missing displayName", act.ID)
		}
		if !knownCategories[act.Category] {
			return fmt.Errorf("activity %s has unknown category %q", act.ID, act.Category)
		}
		for _, code := range act.ErrorCodes {
			if !knownErrorCodes[code] {
				return fmt.Errorf("activity %s declares error code %s the module does not define", act.ID, code)
			}
		}
	}

	fmt.Printf("Registry validation passed. Found %d activities.\n", len(reg.Activities))
	return nil
}

func loadOrCreate(path string) (*registry.ActivityRegistry, error) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &registry.ActivityRegistry{
				Version:     "1.0.0",
				LastUpdated: time.Now().Format(time.RFC3339),
				Activities:  []registry.Activity{},
			}, nil
		}
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return reg, nil
}

func save(reg *registry.ActivityRegistry, path string) error {
	reg.LastUpdated = time.Now().Format(time.RFC3339)
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write registry file: %w", err)
	}
	return nil
}

func help() {
	fmt.Print(`
Usage: registry-updater <command> [flags]

Commands:
  add      Add a new activity to the registry
  update   Update an existing activity's field
  validate Validate the registry file against the module's codes
  help     Show this help message

Examples:
  registry-updater add -id find-matches -displayName "Find Matches" -description "Runs a full matching pass for one user"
  registry-updater update -id find-matches -field status -value completed
  registry-updater validate -path configs/activity-registry.json

Use 'registry-updater <command> -h' for more information about a command.
`)
}
