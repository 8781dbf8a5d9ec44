package policy

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaJSON is the structural contract for hook_policy.json. Unknown
// top-level keys pass (forward compatibility); unknown keys inside typed
// objects are reported as warnings by warnUnknownKeys, not schema errors.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "config_admins": {"type": "array", "items": {"type": "string"}},
    "options": {
      "type": "object",
      "properties": {
        "case_sensitive_users": {"type": "boolean"},
        "expand_env": {"type": "boolean"},
        "treat_patterns_as_absolute_when_starting_with_slash": {"type": "boolean"},
        "log_path": {"type": "string"},
        "ui": {
          "type": "object",
          "properties": {"max_files_per_group": {"type": "integer", "minimum": 1}}
        }
      }
    },
    "global_bypass": {
      "type": "object",
      "properties": {
        "allowed_extensions": {"type": "array", "items": {"type": "string"}}
      }
    },
    "locked": {"type": "array", "items": {"$ref": "#/$defs/pathEntry"}},
    "restricted": {"type": "array", "items": {"$ref": "#/$defs/pathEntry"}},
    "deletion_protected": {"type": "array", "items": {"type": "string"}},
    "emergency_bypass": {"$ref": "#/$defs/bypass"},
    "freeze": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "branch": {"type": "string"},
        "windows": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "from": {"type": "string"},
              "to": {"type": "string"},
              "paths": {"type": "array", "items": {"type": "string"}}
            }
          }
        },
        "allowed_users": {"type": "array", "items": {"type": "string"}},
        "require_reason": {"type": "boolean"},
        "tokens": {"type": "array", "items": {"$ref": "#/$defs/token"}},
        "priority": {"enum": ["override_all", "after_restricted"]}
      }
    },
    "smoke_test": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "mode": {"enum": ["warn", "block"]},
        "timeout_sec": {"type": "integer", "minimum": 1},
        "shell": {"type": "string"},
        "setup_script": {"type": "string"},
        "paths_compile_elab": {"type": "array", "items": {"type": "string"}},
        "cmds_compile_elab": {"type": "array", "items": {"type": "array", "items": {"type": "string"}, "minItems": 1}},
        "sw_header_globs": {"type": "array", "items": {"type": "string"}},
        "cmds_sw": {"type": "array", "items": {"type": "array", "items": {"type": "string"}, "minItems": 1}}
      }
    },
    "notify": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "url": {"type": "string"},
        "secret": {"type": "string"},
        "events": {"type": "array", "items": {"type": "string"}},
        "timeout_sec": {"type": "integer", "minimum": 1}
      }
    }
  },
  "$defs": {
    "pathEntry": {
      "type": "object",
      "properties": {
        "path": {"type": "string"},
        "paths": {"type": "array", "items": {"type": "string"}},
        "allowed_users": {"type": "array", "items": {"type": "string"}},
        "allowed_extensions": {"type": "array", "items": {"type": "string"}}
      }
    },
    "bypass": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "allowed_users": {"type": "array", "items": {"type": "string"}},
        "require_reason": {"type": "boolean"},
        "tokens": {"type": "array", "items": {"$ref": "#/$defs/token"}}
      }
    },
    "token": {
      "type": "object",
      "required": ["sha256"],
      "properties": {
        "label": {"type": "string"},
        "sha256": {"type": "string"},
        "reusable": {"type": "boolean"},
        "expires": {"type": "string"}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("hook_policy.schema.json", schemaJSON)

func validateSchema(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("policy is not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("policy schema: %w", err)
	}
	return nil
}

// knownKeys lists the accepted keys per typed object, keyed by a dotted
// location. Top-level unknown keys are deliberately absent here.
var knownKeys = map[string][]string{
	"options":          {"case_sensitive_users", "expand_env", "treat_patterns_as_absolute_when_starting_with_slash", "log_path", "ui"},
	"options.ui":       {"max_files_per_group"},
	"global_bypass":    {"allowed_extensions"},
	"locked[]":         {"path", "paths", "allowed_extensions"},
	"restricted[]":     {"path", "paths", "allowed_users", "allowed_extensions"},
	"emergency_bypass": {"enabled", "allowed_users", "require_reason", "tokens"},
	"freeze":           {"enabled", "branch", "windows", "allowed_users", "require_reason", "tokens", "priority"},
	"freeze.windows[]": {"from", "to", "paths"},
	"tokens[]":         {"label", "sha256", "reusable", "expires"},
	"smoke_test":       {"enabled", "mode", "timeout_sec", "shell", "setup_script", "paths_compile_elab", "cmds_compile_elab", "sw_header_globs", "cmds_sw"},
	"notify":           {"enabled", "url", "secret", "events", "timeout_sec"},
}

// warnUnknownKeys reports unknown keys inside typed objects. The caller
// logs them; they never fail the load.
func warnUnknownKeys(data []byte) []string {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}

	var warnings []string
	checkObj := func(loc string, v any) {
		obj, ok := v.(map[string]any)
		if !ok {
			return
		}
		allowed := knownKeys[loc]
		var unknown []string
		for k := range obj {
			found := false
			for _, a := range allowed {
				if k == a {
					found = true
					break
				}
			}
			if !found {
				unknown = append(unknown, k)
			}
		}
		sort.Strings(unknown)
		for _, k := range unknown {
			warnings = append(warnings, fmt.Sprintf("%s: unknown key %q ignored", loc, k))
		}
	}
	checkList := func(loc string, v any) {
		list, ok := v.([]any)
		if !ok {
			return
		}
		for _, item := range list {
			checkObj(loc, item)
		}
	}

	checkObj("options", doc["options"])
	if opts, ok := doc["options"].(map[string]any); ok {
		checkObj("options.ui", opts["ui"])
	}
	checkObj("global_bypass", doc["global_bypass"])
	checkList("locked[]", doc["locked"])
	checkList("restricted[]", doc["restricted"])
	checkObj("emergency_bypass", doc["emergency_bypass"])
	checkObj("freeze", doc["freeze"])
	checkObj("smoke_test", doc["smoke_test"])
	checkObj("notify", doc["notify"])
	if eb, ok := doc["emergency_bypass"].(map[string]any); ok {
		checkList("tokens[]", eb["tokens"])
	}
	if fz, ok := doc["freeze"].(map[string]any); ok {
		checkList("tokens[]", fz["tokens"])
		checkList("freeze.windows[]", fz["windows"])
	}
	return warnings
}
