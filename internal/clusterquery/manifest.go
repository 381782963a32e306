package clusterquery

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// applicationManifest mirrors the narrow slice of the application-manifest
// XML schema this repo needs: the app-type's default parameters and the
// resource-governance policy for each imported service manifest's code
// packages. Everything else in a real manifest (certificates, endpoints,
// default services, ...) is intentionally left unmapped — encoding/xml
// ignores elements with no matching struct field.
type applicationManifest struct {
	XMLName    xml.Name            `xml:"ApplicationManifest"`
	Parameters []manifestParameter `xml:"Parameters>Parameter"`
	Imports    []serviceManifestImport `xml:"ServiceManifestImport"`
}

type manifestParameter struct {
	Name         string `xml:"Name,attr"`
	DefaultValue string `xml:"DefaultValue,attr"`
}

type serviceManifestImport struct {
	ServiceManifestRef struct {
		ServiceManifestName string `xml:"ServiceManifestName,attr"`
	} `xml:"ServiceManifestRef"`
	Policies struct {
		ResourceGovernancePolicies []resourceGovernancePolicy `xml:"ResourceGovernancePolicy"`
	} `xml:"Policies"`
}

type resourceGovernancePolicy struct {
	CodePackageRef string `xml:"CodePackageRef,attr"`
	MemoryInMB     string `xml:"MemoryInMB,attr"`
}

// ExtractRGLimits parses manifestXML and returns the resource-governance
// memory policy for the given service manifest + code package, resolving
// any `[ParameterName]` placeholder in MemoryInMB using appParamOverrides
// first, then the app-type's own Parameters defaults, in that order
// (spec.md §4.3). Absence of a matching ResourceGovernancePolicy is not an
// error — it means RG is disabled for that code package.
func ExtractRGLimits(manifestXML, serviceManifestName, codePackageName string, appParamOverrides map[string]string) (RGLimits, error) {
	var manifest applicationManifest
	if err := xml.Unmarshal([]byte(manifestXML), &manifest); err != nil {
		return RGLimits{}, fmt.Errorf("clusterquery: parse application manifest: %w", err)
	}

	defaults := make(map[string]string, len(manifest.Parameters))
	for _, p := range manifest.Parameters {
		defaults[p.Name] = p.DefaultValue
	}

	for _, imp := range manifest.Imports {
		if imp.ServiceManifestRef.ServiceManifestName != serviceManifestName {
			continue
		}
		for _, rg := range imp.Policies.ResourceGovernancePolicies {
			if rg.CodePackageRef != codePackageName {
				continue
			}
			mb, err := resolveMemoryInMB(rg.MemoryInMB, appParamOverrides, defaults)
			if err != nil {
				return RGLimits{}, err
			}
			return RGLimits{MemoryEnabled: mb > 0, MemoryLimitMB: mb}, nil
		}
	}

	return RGLimits{}, nil
}

// resolveMemoryInMB substitutes a `[ParameterName]` placeholder using
// appParamOverrides then defaults, in that order, and parses the result.
func resolveMemoryInMB(raw string, appParamOverrides, defaults map[string]string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}

	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		name := strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
		if v, ok := appParamOverrides[name]; ok {
			raw = v
		} else if v, ok := defaults[name]; ok {
			raw = v
		} else {
			return 0, fmt.Errorf("clusterquery: unresolved manifest parameter %q", name)
		}
	}

	mb, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("clusterquery: invalid MemoryInMB value %q: %w", raw, err)
	}
	return mb, nil
}
