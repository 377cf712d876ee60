// Package assetref parses and normalizes asset references.
//
// An asset reference is a string of one of the following forms:
//
//	texture.png                      relative to some context
//	/home/user/assets/texture.png    absolute local path
//	local://texture.png              local storage url
//	http://server.com/texture.png    external url
//	Remote:textures/texture.png      explicitly named storage
//	bundle.kar#meshes/ship.dae       sub asset inside a bundle
//
// Two references point to the same asset when their Key values are equal.
package assetref

import (
	"path"
	"strings"
)

// Type identifies the form a reference was written in.
type Type int

// Reference forms recognized by Parse
const (
	Invalid Type = iota
	LocalPath
	RelativePath
	LocalURL
	ExternalURL
	NamedStorage
)

func (t Type) String() string {
	switch t {
	case LocalPath:
		return "LocalPath"
	case RelativePath:
		return "RelativePath"
	case LocalURL:
		return "LocalURL"
	case ExternalURL:
		return "ExternalURL"
	case NamedStorage:
		return "NamedStorage"
	default:
		return "Invalid"
	}
}

// SubAssetSeparator separates a bundle reference from the name of the
// sub asset inside it.
const SubAssetSeparator = "#"

// Parsed is the decomposition of a single reference. For
// "local://path/folder/asset.kar#sub" the fields are:
//
//	Protocol              "local"
//	ProtocolPath          "local://path/folder/"
//	PathFilenameSubAsset  "path/folder/asset.kar#sub"
//	PathFilename          "path/folder/asset.kar"
//	Path                  "path/folder/"
//	Filename              "asset.kar"
//	SubAssetName          "sub"
type Parsed struct {
	Type                 Type
	Protocol             string
	NamedStorage         string
	ProtocolPath         string
	PathFilenameSubAsset string
	PathFilename         string
	Path                 string
	Filename             string
	SubAssetName         string
	FullRef              string
	FullRefNoSubAsset    string
}

// Parse breaks ref into its parts and produces the canonical form.
// Backslashes are treated as forward slashes, the path is cleaned
// and the protocol is lowercased.
func Parse(ref string) Parsed {
	s := strings.ReplaceAll(strings.TrimSpace(ref), "\\", "/")
	if s == "" {
		return Parsed{Type: Invalid}
	}

	var p Parsed
	if idx := strings.Index(s, SubAssetSeparator); idx >= 0 {
		p.SubAssetName = cleanPath(s[idx+1:])
		s = strings.TrimSpace(s[:idx])
	}

	var prefix, rest string
	p.Type = classify(s)
	switch p.Type {
	case LocalURL, ExternalURL:
		idx := schemeEnd(s)
		p.Protocol = strings.ToLower(s[:idx])
		rest = cleanPath(s[idx+3:])
		prefix = p.Protocol + "://"
	case NamedStorage:
		idx := namedStorageEnd(s)
		rest = cleanPath(s[idx+1:])
		if drive := s[:idx+1] + rest; isDrivePath(drive) {
			// "C: /x" is the drive path "C:/x"
			p.Type = LocalPath
			rest = cleanPath(drive)
		} else {
			p.NamedStorage = s[:idx]
			prefix = p.NamedStorage + ":"
		}
	default:
		rest = cleanPath(s)
	}

	if p.Type == RelativePath || p.Type == LocalPath {
		if rest == "" {
			return Parsed{Type: Invalid}
		}
		// cleaning can change the form, "./Store:a" becomes "Store:a"
		if classify(rest) != p.Type {
			if p.SubAssetName != "" {
				rest += SubAssetSeparator + p.SubAssetName
			}
			return Parse(rest)
		}
	}

	if idx := strings.LastIndex(rest, "/"); idx >= 0 {
		p.Path = rest[:idx+1]
		p.Filename = rest[idx+1:]
	} else {
		p.Filename = rest
	}

	p.PathFilename = rest
	p.PathFilenameSubAsset = rest
	p.ProtocolPath = prefix + p.Path
	p.FullRefNoSubAsset = prefix + rest
	p.FullRef = p.FullRefNoSubAsset
	if p.SubAssetName != "" {
		p.PathFilenameSubAsset += SubAssetSeparator + p.SubAssetName
		p.FullRef += SubAssetSeparator + p.SubAssetName
	}
	return p
}

// Canonicalize returns the canonical form of ref. Canonicalize is
// idempotent.
func Canonicalize(ref string) string {
	return Parse(ref).FullRef
}

// Key returns the case-insensitive lookup key for ref.
func Key(ref string) string {
	return strings.ToLower(Canonicalize(ref))
}

// Equal reports whether a and b refer to the same asset.
func Equal(a, b string) bool {
	return Key(a) == Key(b)
}

// Resolve interprets ref in the context of the asset named context.
// For context "local://materials/stone.material" the ref "stone.png"
// resolves to "local://materials/stone.png". Sub assets of a bundle
// resolve inside that bundle. Absolute refs and refs resolved against an
// empty context are only canonicalized.
func Resolve(context, ref string) string {
	p := Parse(ref)
	if p.Type != RelativePath || strings.TrimSpace(context) == "" {
		return p.FullRef
	}

	c := Parse(context)
	switch c.Type {
	case Invalid:
		return p.FullRef
	case RelativePath:
		if c.SubAssetName == "" {
			return Canonicalize(c.Path + p.PathFilenameSubAsset)
		}
	}

	if c.SubAssetName != "" {
		dir := path.Dir(c.SubAssetName)
		if dir == "." {
			dir = ""
		} else {
			dir += "/"
		}
		return Canonicalize(c.FullRefNoSubAsset + SubAssetSeparator + dir + p.PathFilename)
	}
	return Canonicalize(c.ProtocolPath + p.PathFilenameSubAsset)
}

// ExtractFilename returns the base filename of ref, without path and
// sub asset name. "http://server.com/path/my.mesh" returns "my.mesh".
func ExtractFilename(ref string) string {
	return Parse(ref).Filename
}

// Extension returns the lowercased filename extension of ref, including
// the dot. Sub asset refs report the extension of the sub asset.
func Extension(ref string) string {
	p := Parse(ref)
	name := p.Filename
	if p.SubAssetName != "" {
		name = p.SubAssetName
	}
	return strings.ToLower(path.Ext(name))
}

// ParseArgs splits a string of the form "body?k1=v1&k2=v2" into the body
// and a map of its arguments. Keys are lowercased.
func ParseArgs(url string) (map[string]string, string) {
	args := make(map[string]string)
	idx := strings.Index(url, "?")
	if idx < 0 {
		return args, url
	}
	for _, pair := range strings.Split(url[idx+1:], "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		if len(kv) == 2 {
			args[key] = strings.TrimSpace(kv[1])
		} else {
			args[key] = ""
		}
	}
	return args, url[:idx]
}

// classify returns the form of the trimmed ref s, sub asset removed.
func classify(s string) Type {
	switch {
	case schemeEnd(s) > 0:
		protocol := strings.ToLower(s[:schemeEnd(s)])
		if protocol == "local" || protocol == "file" {
			return LocalURL
		}
		return ExternalURL
	case isDrivePath(s) || strings.HasPrefix(s, "/"):
		return LocalPath
	case namedStorageEnd(s) > 0:
		return NamedStorage
	}
	return RelativePath
}

// cleanPath trims and cleans p until neither changes it any more.
func cleanPath(p string) string {
	for {
		c := strings.TrimSpace(p)
		if c == "" {
			return ""
		}
		c = path.Clean(c)
		if c == "." {
			return ""
		}
		if c == p {
			return c
		}
		p = c
	}
}

// schemeEnd returns the index of "://" when s starts with a valid url
// scheme, or -1.
func schemeEnd(s string) int {
	idx := strings.Index(s, "://")
	if idx <= 0 {
		return -1
	}
	for i, r := range s[:idx] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return -1
		}
	}
	return idx
}

func isDrivePath(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0]
	if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
		return false
	}
	return len(s) == 2 || s[2] == '/'
}

// namedStorageEnd returns the index of the colon ending a storage name
// prefix, or -1.
func namedStorageEnd(s string) int {
	idx := strings.Index(s, ":")
	if idx <= 0 || strings.Contains(s[:idx], "/") {
		return -1
	}
	return idx
}
