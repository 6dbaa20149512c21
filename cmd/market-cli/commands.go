package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

type fieldKind int

const (
	fieldString fieldKind = iota
	fieldUint
	// fieldAmount values travel as decimal strings.
	fieldAmount
	fieldDataset
)

type field struct {
	name     string
	kind     fieldKind
	optional bool
}

var commandFields = map[string][]field{
	"bond":                     {{name: "amount", kind: fieldAmount}},
	"withdraw":                 {{name: "amount", kind: fieldAmount}},
	"register_resource":        {{name: "peerId"}, {name: "cpu", kind: fieldUint}, {name: "memory", kind: fieldUint}, {name: "unitPrice", kind: fieldAmount}, {name: "duration", kind: fieldUint}, {name: "system", optional: true}, {name: "cpuModel", optional: true}, {name: "hintIndex", kind: fieldUint, optional: true}},
	"modify_resource_price":    {{name: "index", kind: fieldUint}, {name: "unitPrice", kind: fieldAmount}},
	"add_resource_duration":    {{name: "index", kind: fieldUint}, {name: "duration", kind: fieldUint}},
	"offline_resource":         {{name: "index", kind: fieldUint}},
	"create_order":             {{name: "resourceIndex", kind: fieldUint}, {name: "duration", kind: fieldUint}, {name: "pubKey", optional: true}},
	"order_exec":               {{name: "orderIndex", kind: fieldUint}},
	"heartbeat":                {{name: "agreementIndex", kind: fieldUint}},
	"cancel_order":             {{name: "orderIndex", kind: fieldUint}},
	"renew_agreement":          {{name: "agreementIndex", kind: fieldUint}, {name: "duration", kind: fieldUint}},
	"withdraw_rental_amount":   {{name: "agreementIndex", kind: fieldUint}},
	"withdraw_fault_execution": {{name: "agreementIndex", kind: fieldUint}},
	"withdraw_income":          {},
}

var adminFields = map[string][]field{
	"payout_queue":   {},
	"enqueue_reward": {{name: "variant"}, {name: "payout", kind: fieldAmount}, {name: "dataset", kind: fieldDataset}},
	"pause_module":   {{name: "module"}},
	"resume_module":  {{name: "module"}},
}

func sortedNames(table map[string][]field) []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func describeFields(fields []field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.optional {
			parts = append(parts, "["+f.name+"=]")
			continue
		}
		parts = append(parts, f.name+"=")
	}
	return strings.Join(parts, " ")
}

// buildBody turns field=value arguments into the JSON request body.
func buildBody(fields []field, args []string) (map[string]interface{}, error) {
	known := make(map[string]field, len(fields))
	for _, f := range fields {
		known[f.name] = f
	}
	body := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("argument %q is not field=value", arg)
		}
		f, exists := known[key]
		if !exists {
			return nil, fmt.Errorf("unknown field %q", key)
		}
		parsed, err := parseField(f, value)
		if err != nil {
			return nil, err
		}
		body[key] = parsed
	}
	for _, f := range fields {
		if _, ok := body[f.name]; !ok && !f.optional {
			return nil, fmt.Errorf("missing field %q", f.name)
		}
	}
	return body, nil
}

func parseField(f field, value string) (interface{}, error) {
	value = strings.TrimSpace(value)
	switch f.kind {
	case fieldUint:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an unsigned integer", f.name, value)
		}
		return n, nil
	case fieldAmount:
		if !isDecimal(value) {
			return nil, fmt.Errorf("%s: %q is not an amount", f.name, value)
		}
		return strings.ReplaceAll(value, "_", ""), nil
	case fieldDataset:
		return parseDataset(value)
	default:
		return value, nil
	}
}

func isDecimal(value string) bool {
	value = strings.ReplaceAll(value, "_", "")
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseDataset reads account:weight pairs separated by commas.
func parseDataset(value string) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		account, rawWeight, ok := strings.Cut(pair, ":")
		if !ok {
			rawWeight = "0"
		}
		weight, err := strconv.ParseUint(rawWeight, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dataset: invalid weight in %q", pair)
		}
		out = append(out, map[string]interface{}{"account": account, "weight": weight})
	}
	return out, nil
}

func runCommand(c *client, admin bool, args []string, stdout, stderr io.Writer) int {
	table, prefix := commandFields, "commands"
	if admin {
		table, prefix = adminFields, "admin"
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	name := strings.ReplaceAll(args[0], "-", "_")
	fields, ok := table[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown %s command %q\n", prefix, args[0])
		return 1
	}
	body, err := buildBody(fields, args[1:])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	raw, err := c.post("/v1/"+prefix+"/"+name, body)
	return printResponse(raw, err, stdout, stderr)
}

func runQuery(c *client, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: market-cli get <path>")
		return 1
	}
	raw, err := c.get("/v1/" + strings.TrimPrefix(args[0], "/"))
	return printResponse(raw, err, stdout, stderr)
}

func printResponse(raw json.RawMessage, err error, stdout, stderr io.Writer) int {
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var pretty interface{}
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Fprintln(stdout, string(raw))
		return 0
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Fprintln(stdout, string(out))
	return 0
}
