// Package prompt holds the model instructions shared by every provider.
package prompt

const (
	// DescribeImage asks a vision model for a plain-language description of
	// an image, including any visible text.
	DescribeImage = "Tolong jelaskan isi gambar ini dengan detail. " +
		"Berikan deskripsi yang lengkap tentang apa yang kamu lihat, termasuk teks yang mungkin ada di dalam gambar. " +
		"Gunakan bahasa yang natural dan mudah dipahami."

	// ReadImageText asks a vision model to transcribe the text in an image
	// verbatim. Used where no OCR binary is available.
	ReadImageText = "Salin semua teks yang terlihat di dalam gambar ini apa adanya, baris demi baris. " +
		"Jangan menambahkan penjelasan. Jika tidak ada teks, jawab dengan string kosong."

	// Relevance decides whether a transcript carries a claim worth checking.
	// The caller compares the trimmed answer with "NO".
	Relevance = "Kamu adalah penyaring konten untuk layanan cek fakta. " +
		"Baca transkrip video berikut. Jawab YES jika isinya berita, klaim, atau informasi yang perlu dicek kebenarannya. " +
		"Jawab NO jika isinya obrolan santai, musik, atau tidak berkaitan dengan berita. " +
		"Jawab hanya dengan satu kata: YES atau NO."

	// Transcribe is the instruction used by providers that transcribe audio
	// through a general multimodal model.
	Transcribe = "Transkripsikan audio ini kata demi kata dalam bahasa aslinya. " +
		"Jangan menambahkan komentar atau ringkasan."
)
