package morphology

var prepositions = []string{
	"в", "во", "на", "с", "со", "к", "ко", "о", "об", "обо", "от", "ото", "до", "по",
	"за", "из", "изо", "у", "для", "без", "безо", "под", "подо", "над", "надо", "при",
	"про", "через", "перед", "передо", "между", "сквозь", "среди", "около", "возле",
	"вокруг", "вдоль", "после", "кроме", "против", "ради", "благодаря", "вопреки",
	"согласно", "навстречу", "вместо", "внутри", "мимо", "насчет", "ввиду", "вследствие",
	"of", "in", "on", "at", "to", "for", "with", "from", "by", "into", "about",
}

var conjunctions = []string{
	"и", "а", "но", "или", "либо", "да", "зато", "однако", "что", "чтобы", "чтоб",
	"если", "когда", "хотя", "хоть", "потому", "поэтому", "будто", "словно", "ибо",
	"пока", "также", "тоже", "причем", "притом", "едва", "тогда",
	"and", "or", "but", "nor", "if",
}

var interjections = []string{
	"ах", "ох", "эх", "ух", "ой", "ай", "увы", "ура", "эй", "ого", "ага", "фу", "тьфу",
	"ау", "алло", "браво", "oh", "ah", "hey", "wow", "oops",
}

func defaultFunctionWords() map[string]PartOfSpeech {
	words := make(map[string]PartOfSpeech, len(prepositions)+len(conjunctions)+len(interjections))
	add := func(list []string, pos PartOfSpeech) {
		for _, w := range list {
			if _, exists := words[w]; !exists {
				words[w] = pos
			}
		}
	}
	add(prepositions, Preposition)
	add(conjunctions, Conjunction)
	add(interjections, Interjection)
	return words
}
