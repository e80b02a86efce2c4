package avail

//unit tests

import (
	"testing"

	"gopkg.in/yaml.v2"
)

func TestGetMapRequired(t *testing.T) {
	mapObj := make(map[interface{}]interface{})
	notMapObj := "bar"
	parent := make(map[string]interface{})

	parent["foo"] = mapObj
	parent["foo2"] = notMapObj

	value, err := getMapRequired(parent, "bar")
	if err == nil {
		t.Errorf("Expected error, got nil")
		return
	}
	if value != nil {
		t.Errorf("Expected nil value, got %v", value)
		return
	}

	value, err = getMapRequired(parent, "foo2")
	if err == nil {
		t.Errorf("Expected error, got nil")
		return
	}
	if value != nil {
		t.Errorf("Expected nil value, got %v", value)
		return
	}

	value, err = getMapRequired(parent, "foo")
	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
		return
	}
	if value == nil {
		t.Errorf("Expected non-nil map, got nil")
		return
	}
}

func TestGetMapOptional(t *testing.T) {
	parent := make(map[string]interface{})
	parent["foo"] = make(map[interface{}]interface{})
	parent["foo2"] = "bar"

	if value := getMapOptional(parent, "bar"); value != nil {
		t.Errorf("Expected nil value, got %v", value)
	}
	if value := getMapOptional(parent, "foo2"); value != nil {
		t.Errorf("Expected nil value, got %v", value)
	}
	if value := getMapOptional(parent, "foo"); value == nil {
		t.Errorf("Expected non-nil map, got nil")
	}
}

func TestGetMapArrayRequired(t *testing.T) {
	arrayOfNotMaps := []interface{}{"0", "1", "2"}
	foo := map[interface{}]interface{}{0: 0, 1: 1, 2: 2}

	arrayOfWrongKeyTypeMaps := []interface{}{foo, foo, foo}
	bar := map[interface{}]interface{}{"0": 0, "1": 1, "2": 2}

	arrayOfCorrectMaps := []interface{}{bar, bar, bar}

	parent := make(map[string]interface{})
	parent["foo2"] = arrayOfNotMaps
	parent["foo"] = arrayOfWrongKeyTypeMaps
	parent["bar"] = arrayOfCorrectMaps

	for _, key := range []string{"baz", "foo2", "foo"} {
		value, err := getMapArrayRequired(parent, key)
		if err == nil {
			t.Errorf("%s: Expected error, got nil", key)
		}
		if value != nil {
			t.Errorf("%s: Expected nil value, got %v", key, value)
		}
	}

	value, err := getMapArrayRequired(parent, "bar")
	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
		return
	}
	if len(value) != 3 {
		t.Errorf("Expected array of 3, got %v", value)
		return
	}
	if value[0]["1"] != 1 {
		t.Errorf("Expected value[0][\"1\"] to be 1, got %v", value[0]["1"])
	}
}

func TestGetIntOptionalWithDefault(t *testing.T) {
	parent := make(map[string]interface{})
	parent["foo"] = 1
	parent["foo2"] = -1
	parent["bar"] = "2"
	defaultValue := -1

	value, exists := getIntOptionalWithDefault(parent, "baz", defaultValue)
	if exists {
		t.Errorf("Expected exists to be false, got true")
		return
	}
	if value != defaultValue {
		t.Errorf("Expected default value (%d), got %v", defaultValue, value)
		return
	}

	value, exists = getIntOptionalWithDefault(parent, "bar", defaultValue)
	if exists {
		t.Errorf("Expected exists to be false, got true")
		return
	}
	if value != defaultValue {
		t.Errorf("Expected default value (%d), got %v", defaultValue, value)
		return
	}

	value, exists = getIntOptionalWithDefault(parent, "foo", defaultValue)
	if !exists {
		t.Errorf("Expected exists to be true, got false")
		return
	}
	if value != parent["foo"] {
		t.Errorf("Expected %d, got %v", parent["foo"], value)
		return
	}
}

func TestGetFloatOptional(t *testing.T) {
	parent := map[string]interface{}{"int": 2, "float": 0.5, "string": "3"}

	if value, ok := getFloatOptional(parent, "int"); !ok || value != 2.0 {
		t.Errorf("Expected 2.0, got %v (%t)", value, ok)
	}
	if value, ok := getFloatOptional(parent, "float"); !ok || value != 0.5 {
		t.Errorf("Expected 0.5, got %v (%t)", value, ok)
	}
	if _, ok := getFloatOptional(parent, "string"); ok {
		t.Errorf("Expected a string value to be rejected")
	}
	if _, ok := getFloatOptional(parent, "missing"); ok {
		t.Errorf("Expected a missing value to be rejected")
	}
}

const TestHostsYAML = `
hosts:
  AK:
    alaska: https://myhealth.alaska.gov
  WA:
    doh: https://prepmod.doh.wa.gov
    bad: 5
`

func TestGetStringMapOptional(t *testing.T) {
	params := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(TestHostsYAML), &params); err != nil {
		panic(err)
	}

	hostsByState, err := getMapRequired(params, "hosts")
	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
		return
	}

	hosts, err := getStringMapOptional(hostsByState, "AK")
	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
		return
	}
	if hosts["alaska"] != "https://myhealth.alaska.gov" {
		t.Errorf("Expected alaska host, got %v", hosts)
	}

	if _, err = getStringMapOptional(hostsByState, "WA"); err == nil {
		t.Errorf("Expected error for non-string host, got nil")
	}

	hosts, err = getStringMapOptional(hostsByState, "OR")
	if err != nil || hosts != nil {
		t.Errorf("Expected nil, nil for missing key, got %v, %v", hosts, err)
	}
}

const TestEndpointYAML = `
endpoint:
  url: foo
  method: post
  headers:
    Cookie: cookie=yummy
    Content-Type: application/lol
  timeout: 5
`

func TestNewEndpointFromParams(t *testing.T) {
	//happy path testing
	params := make(map[string]interface{})
	err := yaml.Unmarshal([]byte(TestEndpointYAML), &params)
	if err != nil {
		panic(err)
	}

	endpointParams, err := getMapRequired(params, "endpoint")
	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
		return
	}

	endpoint, err := NewEndpointFromParams(endpointParams)
	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
		return
	}

	if endpoint.Url != "foo" {
		t.Errorf("Expected endpoint.Url to be 'foo', got '%v'", endpoint.Url)
		return
	}

	if endpoint.Method != "POST" {
		t.Errorf("Expected endpoint.Method to be 'POST', got '%v'", endpoint.Method)
		return
	}

	if endpoint.Timeout != 5 {
		t.Errorf("Expected endpoint.Timeout to be 5, got %d", endpoint.Timeout)
		return
	}

	if len(endpoint.Headers) != 2 {
		t.Errorf("Expected endpoint.Headers to have length 2, got %d", len(endpoint.Headers))
		return
	}

	headers := make(map[string]string)

	for _, header := range endpoint.Headers {
		headers[header.Name] = header.Value
	}

	if headers["Cookie"] != "cookie=yummy" {
		t.Errorf("Expected 'Cookie' header to have value 'cookie=yummy', got %s", headers["Cookie"])
		return
	}

	if headers["Content-Type"] != "application/lol" {
		t.Errorf("Expected 'Content-Type' header to have value 'application/lol', got %s", headers["Content-Type"])
		return
	}

	if _, err := NewEndpointFromParams(map[string]interface{}{}); err == nil {
		t.Errorf("Expected error for missing url, got nil")
	}
}

func TestProductSetMerge(t *testing.T) {
	var bar ProductSet
	bar = bar.Add(ProductPfizer)

	if bar.Len() != 1 {
		t.Errorf("Expecting set of size 1, got %d: %v", bar.Len(), bar)
		return
	}

	var foo ProductSet
	foo, ok := foo.ParseAndAdd("blah blah Janssen blah")
	if !ok || foo.Len() != 1 {
		t.Errorf("Expecting set of size 1, got %d: %v", foo.Len(), foo)
		return
	}

	if !foo.Contains(ProductJanssen) {
		t.Errorf("Expecting set to contain %s, got %v", ProductJanssen, foo)
	}

	baz := foo.Merge(bar)

	if foo.Len() != 1 {
		t.Errorf("Expecting set of size 1, got %d: %v", foo.Len(), foo)
		return
	}

	if baz.Len() != 2 {
		t.Errorf("Expecting set of size 2, got %d: %v", baz.Len(), baz)
		return
	}

	if !baz.Contains(ProductJanssen) || !baz.Contains(ProductPfizer) {
		t.Errorf("Expecting set to contain %s and %s, got %v", ProductJanssen, ProductPfizer, baz)
	}

	if _, ok := baz.ParseAndAdd("Flu shot"); ok {
		t.Errorf("Expecting flu shot not to match a product")
	}

	var empty ProductSet
	if empty.Slice() != nil {
		t.Errorf("Expecting nil slice for empty set, got %v", empty.Slice())
	}
}

func TestJsonSafe(t *testing.T) {
	value := jsonSafe(map[interface{}]interface{}{
		"meta": map[interface{}]interface{}{"a": []interface{}{map[interface{}]interface{}{1: "x"}}},
	})

	converted, ok := value.(map[string]interface{})
	if !ok {
		t.Errorf("Expected map[string]interface{}, got %T", value)
		return
	}
	meta, ok := converted["meta"].(map[string]interface{})
	if !ok {
		t.Errorf("Expected nested map[string]interface{}, got %T", converted["meta"])
		return
	}
	list := meta["a"].([]interface{})
	if inner, ok := list[0].(map[string]interface{}); !ok || inner["1"] != "x" {
		t.Errorf("Expected converted list entry, got %v", list[0])
	}
}
