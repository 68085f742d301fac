package guidelines

import "time"

// BuiltinSourceURL marks documents that came from the compiled-in set.
const BuiltinSourceURL = "builtin:app-review-guidelines"

var builtinSections = []Section{
	{Number: "1", Title: "Safety", Body: "Apps must not include content that is offensive, insensitive, upsetting, or in exceptionally poor taste, and must protect users from harm."},
	{Number: "1.1", Title: "Objectionable Content", Body: "Defamatory, discriminatory, violent, or sexually explicit material is not allowed."},
	{Number: "1.2", Title: "User-Generated Content", Body: "Apps with user-generated content need filtering, reporting, blocking, and published contact information."},
	{Number: "1.5", Title: "Developer Information", Body: "The app and its Support URL must include an easy way to contact the developer."},
	{Number: "2", Title: "Performance", Body: "Submissions must be complete, tested, and accurately described."},
	{Number: "2.1", Title: "App Completeness", Body: "Submissions should be final versions with all metadata and fully functional URLs; placeholder content and crashes lead to rejection."},
	{Number: "2.3", Title: "Accurate Metadata", Body: "Descriptions, screenshots, and previews must reflect the core experience of the app."},
	{Number: "2.5", Title: "Software Requirements", Body: "Apps may only use public APIs, must run on the currently shipping OS, and must not download or execute code that changes features."},
	{Number: "3", Title: "Business", Body: "Monetization must follow the in-app purchase rules."},
	{Number: "3.1", Title: "Payments", Body: "Digital content and features must be unlocked with in-app purchase; external purchase links are restricted."},
	{Number: "4", Title: "Design", Body: "Apps must be useful, unique, and offer more than a repackaged website."},
	{Number: "4.2", Title: "Minimum Functionality", Body: "Apps should include features, content, and UI that elevate them beyond a repackaged website."},
	{Number: "5", Title: "Legal", Body: "Apps must comply with all legal requirements in every location where they are offered."},
	{Number: "5.1", Title: "Privacy", Body: "Apps must protect user data and be transparent about collection and use."},
	{Number: "5.1.1", Title: "Data Collection and Storage", Body: "Apps that collect user or usage data must have a privacy policy, secure consent, and offer account deletion when accounts can be created."},
	{Number: "5.1.2", Title: "Data Use and Sharing", Body: "Data may not be shared with third parties without permission; tracking requires App Tracking Transparency consent."},
}

// Builtin returns the fixed fallback guideline set, stamped with now. Each
// call returns a fresh copy.
func Builtin(now time.Time) *Document {
	sections := make([]Section, len(builtinSections))
	copy(sections, builtinSections)
	for i := range sections {
		sections[i].Index = i
	}
	return &Document{FetchedAt: now, SourceURL: BuiltinSourceURL, Sections: sections}
}
