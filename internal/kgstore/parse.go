package kgstore

import "fmt"

// graphNode is the generic parsed shape of a FalkorDB compact node value:
// [internal_id, labels, properties].
type graphNode struct {
	Labels     []string
	Properties map[string]any
}

// graphRel is the generic parsed shape of a FalkorDB compact edge value:
// [internal_id, type, src_internal_id, dst_internal_id, properties].
type graphRel struct {
	Type       string
	Properties map[string]any
}

func parseNode(obj any) *graphNode {
	vals, ok := obj.([]any)
	if !ok || len(vals) < 3 {
		return nil
	}

	n := &graphNode{Properties: make(map[string]any)}

	if labels, ok := vals[1].([]any); ok {
		for _, l := range labels {
			n.Labels = append(n.Labels, asString(l))
		}
	}

	if props, ok := vals[2].([]any); ok {
		for _, p := range props {
			pair, ok := p.([]any)
			if !ok || len(pair) != 2 {
				continue
			}
			n.Properties[asString(pair[0])] = unwrapValue(pair[1])
		}
	}

	return n
}

func parseRel(obj any) *graphRel {
	vals, ok := obj.([]any)
	if !ok || len(vals) < 2 {
		return nil
	}

	r := &graphRel{Properties: make(map[string]any), Type: asString(vals[1])}

	if len(vals) > 4 {
		if props, ok := vals[4].([]any); ok {
			for _, p := range props {
				pair, ok := p.([]any)
				if !ok || len(pair) != 2 {
					continue
				}
				r.Properties[asString(pair[0])] = unwrapValue(pair[1])
			}
		}
	}

	return r
}

func asString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

func unwrapValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func stringProp(n *graphNode, key string) string {
	if n == nil {
		return ""
	}
	if v, ok := n.Properties[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func intProp(n *graphNode, key string) int {
	if n == nil {
		return 0
	}
	v, ok := n.Properties[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int64:
		return int(x)
	case float64:
		return int(x)
	case int:
		return x
	default:
		var i int
		fmt.Sscanf(fmt.Sprint(v), "%d", &i)
		return i
	}
}
