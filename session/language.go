package session

// Language is one selectable editor language.
type Language struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Languages is the supported catalog, in display order.
var Languages = []Language{
	{ID: "javascript", Name: "JavaScript"},
	{ID: "typescript", Name: "TypeScript"},
	{ID: "python", Name: "Python"},
	{ID: "java", Name: "Java"},
	{ID: "cpp", Name: "C++"},
	{ID: "go", Name: "Go"},
	{ID: "rust", Name: "Rust"},
	{ID: "csharp", Name: "C#"},
	{ID: "ruby", Name: "Ruby"},
	{ID: "php", Name: "PHP"},
}

// DefaultLanguage is the initial editor language.
var DefaultLanguage = Languages[0]

// LanguageByID looks a language up by its identifier.
func LanguageByID(id string) (Language, bool) {
	for _, l := range Languages {
		if l.ID == id {
			return l, true
		}
	}
	return Language{}, false
}
