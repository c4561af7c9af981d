package sheets

import "github.com/alexjbarnes/solara-sync/internal/state"

// statusSuccess is the only status value the endpoint uses for success.
const statusSuccess = "success"

// Submission is the JSON body posted for one photo. Field names and
// order are fixed by the spreadsheet script.
type Submission struct {
	Ciclo     string `json:"ciclo"`
	Sector    string `json:"sector"`
	Ruta      string `json:"ruta"`
	Tecnico   string `json:"tecnico"`
	Nombre    string `json:"nombre"`
	Contenido string `json:"contenido"`
}

// SubmissionFromRecord copies the wire fields out of a queue record.
func SubmissionFromRecord(rec state.Record) Submission {
	return Submission{
		Ciclo:     rec.Ciclo,
		Sector:    rec.Sector,
		Ruta:      rec.Ruta,
		Tecnico:   rec.Tecnico,
		Nombre:    rec.Nombre,
		Contenido: rec.Contenido,
	}
}

// AppData holds the classification options served by getAppData.
type AppData struct {
	Ciclos           []string            `json:"ciclos"`
	SectoresPorCiclo map[string][]string `json:"sectoresPorCiclo"`
	RutasPorSector   map[string][]string `json:"rutasPorSector"`
	Tecnicos         []string            `json:"tecnicos"`
}

// appDataResponse is the getAppData envelope.
type appDataResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Data    *AppData `json:"data,omitempty"`
}

// Result is the outcome of one delivery attempt. Err explains a failed
// attempt and is nil when OK is true.
type Result struct {
	OK  bool
	Err error
}
