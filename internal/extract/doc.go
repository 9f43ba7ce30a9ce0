// Package extract pulls source links and place names out of chat text.
//
// Both extractors sit behind small interfaces so the session state machine
// does not depend on how candidates are found:
//
//	links := extract.NewLinks()
//	link, ok := links.ExtractLink(msg)
//
//	places, err := extract.NewKeywordPlaces(extract.DefaultKeywords)
//	name, ok := places.ExtractPlace("village Lyman")
//
// Link sources are tried in order: a permalink synthesized from a forwarded
// channel post, an explicit URL entity, then a plain-text URL scan.
//
// Place names come from a locality keyword ("village", "місто", ...)
// followed by a whitespace-delimited token. Without a keyword the whole
// trimmed, lower-cased input is the candidate.
package extract
