package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/pflag"

	"github.com/openleash/openleash/pkg/authorize"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/pdp"
	"github.com/openleash/openleash/pkg/policyloader"
)

func runPolicyCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 || args[0] != "validate" {
		_, _ = fmt.Fprintln(stderr, "Usage: openleash policy validate <file|dir>")
		return 2
	}
	path := args[1]

	info, err := os.Stat(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	problems := map[string][]contracts.FieldError{}
	if info.IsDir() {
		problems, err = policyloader.ValidateDir(path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if errs := policyloader.ValidateYAML(data); len(errs) > 0 {
			problems[path] = errs
		}
	}

	if len(problems) == 0 {
		_, _ = fmt.Fprintf(stdout, "OK %s\n", path)
		return 0
	}
	names := make([]string, 0, len(problems))
	for name := range problems {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, fe := range problems[name] {
			_, _ = fmt.Fprintf(stdout, "%s: %s\n", name, fe)
		}
	}
	return 1
}

// runPlaygroundCmd evaluates an action offline. Nothing is signed or
// recorded.
func runPlaygroundCmd(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("playground", pflag.ContinueOnError)
	policyPath := fs.String("policy", "", "policy YAML file")
	actionPath := fs.String("action", "", "action request JSON file (- for stdin)")
	defaultTTL := fs.Int("default-ttl", 120, "proof TTL in seconds when the rule sets none")
	if code, ok := parseFlags(fs, args, stdout, stderr); !ok {
		return code
	}
	if *policyPath == "" || *actionPath == "" {
		_, _ = fmt.Fprintln(stderr, "Usage: openleash playground --policy <file> --action <file>")
		return 2
	}

	policy, err := policyloader.LoadFile(*policyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var raw []byte
	if *actionPath == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(*actionPath)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	var action contracts.ActionRequest
	if err := json.Unmarshal(raw, &action); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: action: %v\n", err)
		return 2
	}
	if err := action.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	result, err := pdp.NewEngine().Evaluate(&action, policy, pdp.Options{DefaultProofTTL: *defaultTTL})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(authorize.PlaygroundResult{
		ActionHash: result.Response.ActionHash,
		Decision:   result.Response,
		Debug:      authorize.PlaygroundDebug{Trace: result.Trace.Rules},
	})
	return 0
}
