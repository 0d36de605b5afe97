// Package testutil holds shared fixtures for tests: a small FHIR
// population and deterministic compilation IDs.
package testutil

import (
	"encoding/json"
)

// Patients is a three-record population exercising repeating elements,
// choice elements and absent data.
//
//	p1: two names (official Smith with given John, Q; nickname Johnny),
//	    born 1980-01-02, active, male, one phone
//	p2: one name (official Doe, given Jane), born 1990-05-06, inactive,
//	    female, deceasedBoolean false
//	p3: no name, no birthDate, multipleBirthInteger 2
var Patients = []json.RawMessage{
	json.RawMessage(`{
		"resourceType": "Patient",
		"id": "p1",
		"active": true,
		"gender": "male",
		"birthDate": "1980-01-02",
		"name": [
			{"use": "official", "family": "Smith", "given": ["John", "Q"]},
			{"use": "nickname", "given": ["Johnny"]}
		],
		"telecom": [{"system": "phone", "value": "555-0100", "use": "home"}]
	}`),
	json.RawMessage(`{
		"resourceType": "Patient",
		"id": "p2",
		"active": false,
		"gender": "female",
		"birthDate": "1990-05-06",
		"deceasedBoolean": false,
		"name": [
			{"use": "official", "family": "Doe", "given": ["Jane"]}
		]
	}`),
	json.RawMessage(`{
		"resourceType": "Patient",
		"id": "p3",
		"gender": "unknown",
		"multipleBirthInteger": 2
	}`),
}

// NullGiven is a Patient whose given names carry a JSON null, as FHIR
// allows when a primitive item only has extensions.
var NullGiven = json.RawMessage(`{
	"resourceType": "Patient",
	"id": "p4",
	"name": [{"family": "Roe", "given": ["A", null, "C"]}],
	"_given": [null, {"extension": [{"url": "http://example.org/absent", "valueCode": "masked"}]}, null]
}`)

// Observations are linked to Patients p1 and p2.
//
//	o1: final, body weight 72 kg, subject p1
//	o2: preliminary, valueString "positive", subject p2
//	o3: final, blood pressure with two components, subject p1
var Observations = []json.RawMessage{
	json.RawMessage(`{
		"resourceType": "Observation",
		"id": "o1",
		"status": "final",
		"code": {"coding": [{"system": "http://loinc.org", "code": "29463-7", "display": "Body weight"}]},
		"subject": {"reference": "Patient/p1"},
		"valueQuantity": {"value": 72, "unit": "kg", "system": "http://unitsofmeasure.org", "code": "kg"}
	}`),
	json.RawMessage(`{
		"resourceType": "Observation",
		"id": "o2",
		"status": "preliminary",
		"code": {"text": "Screening"},
		"subject": {"reference": "Patient/p2"},
		"valueString": "positive"
	}`),
	json.RawMessage(`{
		"resourceType": "Observation",
		"id": "o3",
		"status": "final",
		"code": {"coding": [{"system": "http://loinc.org", "code": "85354-9"}]},
		"subject": {"reference": "Patient/p1"},
		"component": [
			{"code": {"coding": [{"code": "8480-6"}]}, "valueQuantity": {"value": 120, "unit": "mmHg"}},
			{"code": {"coding": [{"code": "8462-4"}]}, "valueQuantity": {"value": 80, "unit": "mmHg"}}
		]
	}`),
}

// Bundle wraps every fixture in a collection Bundle.
func Bundle() []byte {
	type entry struct {
		Resource json.RawMessage `json:"resource"`
	}
	b := struct {
		ResourceType string  `json:"resourceType"`
		Type         string  `json:"type"`
		Entry        []entry `json:"entry"`
	}{ResourceType: "Bundle", Type: "collection"}

	for _, docs := range [][]json.RawMessage{Patients, Observations} {
		for _, d := range docs {
			b.Entry = append(b.Entry, entry{Resource: d})
		}
	}
	out, err := json.Marshal(b)
	if err != nil {
		panic(err)
	}
	return out
}
