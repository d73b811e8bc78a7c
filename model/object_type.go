package model

// ObjectType describes one source CRM object type to synchronize. The
// modified property name differs between types on the source API, so it is
// carried alongside the default property list.
type ObjectType struct {
	Name             string
	Properties       []string
	ModifiedProperty string
}

const (
	ObjectTypeNameContact = "contacts"
	ObjectTypeNameCompany = "companies"
)

var objectTypeContact = ObjectType{
	Name: ObjectTypeNameContact,
	Properties: []string{"email", "firstname", "lastname", "phone",
		"jobtitle", "company", "createdate"},
	ModifiedProperty: "lastmodifieddate",
}

var objectTypeCompany = ObjectType{
	Name: ObjectTypeNameCompany,
	Properties: []string{"name", "domain", "industry", "city",
		"country", "createdate"},
	ModifiedProperty: "hs_lastmodifieddate",
}

// Object types in sync order.
var syncOrderByType = [...]ObjectType{
	objectTypeContact,
	objectTypeCompany,
}

// GetSyncObjectTypes returns the registered object types in sync order.
func GetSyncObjectTypes() []ObjectType {
	types := make([]ObjectType, 0, len(syncOrderByType))
	for i := range syncOrderByType {
		types = append(types, syncOrderByType[i])
	}
	return types
}

// GetObjectTypeByName returns the registered object type for the given
// name, false if the name is not registered.
func GetObjectTypeByName(name string) (ObjectType, bool) {
	for i := range syncOrderByType {
		if syncOrderByType[i].Name == name {
			return syncOrderByType[i], true
		}
	}
	return ObjectType{}, false
}
