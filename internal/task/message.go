package task

import "sort"

// DefaultLanguage is used when a message has no text for the requested language
const DefaultLanguage = "en"

// Message is a localized, human readable note attached to a task outcome.
// Keys are language codes.
type Message map[string]string

// Text returns the message in lang, falling back to DefaultLanguage and then
// to any available translation.
func (m Message) Text(lang string) string {
	if text, ok := m[lang]; ok {
		return text
	}
	if text, ok := m[DefaultLanguage]; ok {
		return text
	}
	for _, l := range m.Languages() {
		return m[l]
	}
	return ""
}

// Languages returns the available languages in sorted order
func (m Message) Languages() []string {
	langs := make([]string, 0, len(m))
	for l := range m {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Empty reports whether the message carries no text
func (m Message) Empty() bool {
	return len(m) == 0
}

// Clone returns a copy of the message
func (m Message) Clone() Message {
	if m == nil {
		return nil
	}
	c := make(Message, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Message catalog keys
const (
	MsgNoSpace           = "no_space"
	MsgUploadFailed      = "upload_failed"
	MsgFileNotFound      = "file_not_found"
	MsgUnsupportedFormat = "unsupported_format"
	MsgSaveFailed        = "save_failed"
	MsgWorkerFailed      = "worker_failed"
	MsgTimeout           = "timeout"
	MsgDownloadFailed    = "download_failed"
)

var catalog = map[string]Message{
	MsgNoSpace: {
		"en": "Sorry, there is no space left in the external storage",
		"ru": "К сожалению, нет места во внешнем хранилище",
	},
	MsgUploadFailed: {
		"en": "Could not upload the file to the external storage",
		"ru": "Не получилось загрузить файл во внешнее хранилище.",
	},
	MsgFileNotFound: {
		"en": "Could not find the file to process",
		"ru": "Не нашел файл для обработки",
	},
	MsgUnsupportedFormat: {
		"en": "File format is not supported",
		"ru": "Неверное расширение файла",
	},
	MsgSaveFailed: {
		"en": "Could not save the transcription",
		"ru": "Не получилось сохранить транскрипцию",
	},
	MsgWorkerFailed: {
		"en": "The worker failed to process the request",
		"ru": "Не получилось обработать запрос",
	},
	MsgTimeout: {
		"en": "The request took too long and was abandoned",
		"ru": "Запрос выполнялся слишком долго",
	},
	MsgDownloadFailed: {
		"en": "Could not download the requested media",
		"ru": "Не получилось скачать файл",
	},
}

// Localized returns a copy of the catalog message for key. Unknown keys
// produce a message carrying the key itself.
func Localized(key string) Message {
	if msg, ok := catalog[key]; ok {
		return msg.Clone()
	}
	return Message{DefaultLanguage: key}
}
