package sandbox

import "fmt"

// Language is one of the wire-string language tags accepted by the
// execution API.
type Language string

const (
	LanguageRust       Language = "rust"
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageGo         Language = "go"
	LanguageJava       Language = "java"
	LanguageCSharp     Language = "csharp"
	LanguageCPP        Language = "cpp"
	LanguageC          Language = "c"
	LanguageRuby       Language = "ruby"
	LanguagePHP        Language = "php"
	LanguageSwift      Language = "swift"
	LanguageKotlin     Language = "kotlin"
)

// spec is everything the executor needs to know about one language: the
// sandbox image that has its toolchain installed, the source file
// extension main.<ext> is written with, and the compile-and-run command.
// Image name is deliberately a single configurable field per language
// rather than hardcoded per call site, so swapping a public-hub image for a
// private-registry one is a table edit, not a code change.
type spec struct {
	Image   string
	Ext     string
	Command []string
}

var languages = map[Language]spec{
	LanguagePython:     {Image: "sandbox-python:latest", Ext: "py", Command: []string{"python3", "main.py"}},
	LanguageJavaScript: {Image: "sandbox-node:latest", Ext: "js", Command: []string{"node", "main.js"}},
	LanguageTypeScript: {Image: "sandbox-node:latest", Ext: "ts", Command: []string{"npx", "ts-node", "main.ts"}},
	LanguageRuby:       {Image: "sandbox-ruby:latest", Ext: "rb", Command: []string{"ruby", "main.rb"}},
	LanguagePHP:        {Image: "sandbox-php:latest", Ext: "php", Command: []string{"php", "main.php"}},
	LanguageSwift:      {Image: "sandbox-swift:latest", Ext: "swift", Command: []string{"swift", "main.swift"}},
	LanguageGo:         {Image: "sandbox-go:latest", Ext: "go", Command: []string{"go", "run", "main.go"}},
	LanguageRust:       {Image: "sandbox-rust:latest", Ext: "rs", Command: []string{"sh", "-c", "rustc main.rs -o /tmp/out && /tmp/out"}},
	LanguageC:          {Image: "sandbox-c:latest", Ext: "c", Command: []string{"sh", "-c", "gcc main.c -o /tmp/out && /tmp/out"}},
	LanguageCPP:        {Image: "sandbox-cpp:latest", Ext: "cpp", Command: []string{"sh", "-c", "g++ main.cpp -o /tmp/out && /tmp/out"}},
	LanguageJava:       {Image: "sandbox-java:latest", Ext: "java", Command: []string{"sh", "-c", "javac main.java && java Main"}},
	LanguageCSharp:     {Image: "sandbox-dotnet:latest", Ext: "cs", Command: []string{"dotnet", "script", "main.cs"}},
	LanguageKotlin:     {Image: "sandbox-kotlin:latest", Ext: "kt", Command: []string{"sh", "-c", "kotlinc main.kt -include-runtime -d /tmp/out.jar && java -jar /tmp/out.jar"}},
}

// lookup resolves a language tag's spec, appending args to the base
// command verbatim as the request instructs.
func lookup(lang Language, args []string) (spec, error) {
	s, ok := languages[lang]
	if !ok {
		return spec{}, fmt.Errorf("sandbox: unknown language %q", lang)
	}
	s.Command = append(append([]string{}, s.Command...), args...)
	return s, nil
}

// SourceFilename returns the name the executor writes the request's code
// under inside /code.
func (s spec) SourceFilename() string {
	return "main." + s.Ext
}
