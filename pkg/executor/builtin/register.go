package builtin

import (
	"github.com/smilemakc/mbflow/internal/application/filestorage"
	"github.com/smilemakc/mbflow/pkg/executor"
)

// RegisterBuiltins registers all built-in executors with the given manager.
// This function should be called by applications that want to use built-in executors.
func RegisterBuiltins(manager executor.Manager) error {
	executors := map[string]executor.Executor{
		"http":               NewHTTPExecutor(),
		"transform":          NewTransformExecutor(),
		"llm":                NewLLMExecutor(),
		"function_call":      NewFunctionCallExecutor(),
		"telegram":           NewTelegramExecutor(),
		"telegram_callback":  NewTelegramCallbackExecutor(),
		"telegram_download":  NewTelegramDownloadExecutor(),
		"telegram_parse":     NewTelegramParseExecutor(),
		"html_clean":         NewHTMLCleanExecutor(),
		"rss_parser":         NewRSSParserExecutor(),
		"bytes_to_json":      NewBytesToJsonExecutor(),
		"conditional":        NewConditionalExecutor(),
		"merge":              NewMergeExecutor(),
		"google_drive":       NewGoogleDriveExecutor(),
		"google_sheets":      NewGoogleSheetsExecutor(),
	}

	for name, exec := range executors {
		if err := manager.Register(name, exec); err != nil {
			return err
		}
	}

	return nil
}

// MustRegisterBuiltins registers all built-in executors and panics on error.
// This is a convenience function for initialization code.
func MustRegisterBuiltins(manager executor.Manager) {
	if err := RegisterBuiltins(manager); err != nil {
		panic("failed to register built-in executors: " + err.Error())
	}
}

// RegisterFileStorage registers the file_storage executor, which needs a
// concrete storage manager rather than being constructible standalone.
func RegisterFileStorage(manager executor.Manager, storage filestorage.Manager) error {
	return manager.Register("file_storage", NewFileStorageExecutor(storage))
}

// RegisterAdapters registers the data-shape adapter executors (base64,
// JSON string conversion) used to bridge mismatched node input/output
// types in a workflow graph without a custom transform expression.
func RegisterAdapters(manager executor.Manager) error {
	executors := map[string]executor.Executor{
		"base64_to_bytes": NewBase64ToBytesExecutor(),
		"bytes_to_base64": NewBytesToBase64Executor(),
		"string_to_json":  NewStringToJsonExecutor(),
		"json_to_string":  NewJsonToStringExecutor(),
	}

	for name, exec := range executors {
		if err := manager.Register(name, exec); err != nil {
			return err
		}
	}

	return nil
}

// RegisterFileAdapters registers the adapter executors that convert
// between raw bytes and stored files, requiring the same storage
// manager as the file_storage executor.
func RegisterFileAdapters(manager executor.Manager, storage filestorage.Manager) error {
	executors := map[string]executor.Executor{
		"file_to_bytes": NewFileToBytesExecutor(storage),
		"bytes_to_file": NewBytesToFileExecutor(storage),
	}

	for name, exec := range executors {
		if err := manager.Register(name, exec); err != nil {
			return err
		}
	}

	return nil
}
