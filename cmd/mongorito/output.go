package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/waigo/mongorito/internal/docjson"
)

// print writes v to the command output in the selected format. YAML output
// goes through JSON first so documents keep their JSON field names.
func (a *app) print(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	out := cmd.OutOrStdout()
	if a.output != "yaml" {
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	plain, err := docjson.UnmarshalValue(data)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(plain); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return enc.Close()
}
